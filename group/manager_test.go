package group

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/streamkop/coordinator/bus"
	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "coordinator-group-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	b, err := bus.NewFileBus(dir, 0)
	if err != nil {
		t.Fatalf("NewFileBus: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return NewManager(b, "__consumer_offsets", 50)
}

func awaitLoad(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete in time")
	}
}

func groupIDRoutingTo(m *Manager, p int) string {
	id := "g"
	for m.PartitionFor(id) != p {
		id += "x"
	}
	return id
}

func appendAndWait(t *testing.T, m *Manager, p int, key, value []byte) {
	t.Helper()
	done := make(chan error, 1)
	m.b.Append(context.Background(), m.topic, p, key, value, func(offset int64, err error) {
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("append: %v", err)
	}
}

// TestLoadEmptyPartitionOwnsIt exercises S2's lifecycle half: loading
// an empty partition transitions it straight to owned.
func TestLoadEmptyPartitionOwnsIt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var loadedCount int
	done := m.ScheduleLoad(ctx, 7, func(g *model.GroupEntry) { loadedCount++ })
	awaitLoad(t, done)

	if !m.IsPartitionOwned(7) {
		t.Fatal("expected partition 7 to be owned after load")
	}
	if m.IsPartitionLoading(7) {
		t.Fatal("expected partition 7 to no longer be loading")
	}
	if loadedCount != 0 {
		t.Fatalf("expected no groups in an empty partition, got %d", loadedCount)
	}
}

// TestGroupLoadPopulatesCache exercises S2's record-transcript half: a
// group record appended before the load starts must show up in the
// cache, with onLoaded invoked for it.
func TestGroupLoadPopulatesCache(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	groupID := groupIDRoutingTo(m, 7)
	g := model.NewGroupEntry(groupID)
	g.GenerationID = 3
	g.State = model.GroupStable
	appendAndWait(t, m, 7, codec.EncodeGroupKey(groupID), codec.EncodeGroupValue(g))

	var loaded *model.GroupEntry
	done := m.ScheduleLoad(ctx, 7, func(got *model.GroupEntry) { loaded = got })
	awaitLoad(t, done)

	if loaded == nil {
		t.Fatal("onLoaded was not invoked")
	}
	cached, ok := m.GetGroup(groupID)
	if !ok {
		t.Fatalf("expected %v to be cached after load", groupID)
	}
	cached.RLock()
	defer cached.RUnlock()
	if cached.GenerationID != 3 {
		t.Fatalf("expected generation 3, got %v", cached.GenerationID)
	}
}

// TestTombstoneDuringLoad exercises S3: a group record followed by a
// tombstone for the same id must leave the group absent after load.
func TestTombstoneDuringLoad(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	groupID := groupIDRoutingTo(m, 3)
	g := model.NewGroupEntry(groupID)
	appendAndWait(t, m, 3, codec.EncodeGroupKey(groupID), codec.EncodeGroupValue(g))
	appendAndWait(t, m, 3, codec.EncodeGroupKey(groupID), nil)

	done := m.ScheduleLoad(ctx, 3, nil)
	awaitLoad(t, done)

	if !m.IsPartitionOwned(3) {
		t.Fatal("expected partition 3 to be owned")
	}
	if _, ok := m.GetGroup(groupID); ok {
		t.Fatalf("expected %v to be absent after tombstone", groupID)
	}
}

func TestScheduleLoadIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	done1 := m.ScheduleLoad(ctx, 1, nil)
	done2 := m.ScheduleLoad(ctx, 1, nil)
	awaitLoad(t, done1)
	awaitLoad(t, done2)
	if !m.IsPartitionOwned(1) {
		t.Fatal("expected partition 1 owned")
	}
}

func TestUnloadIsNoOpWhenAbsent(t *testing.T) {
	m := newTestManager(t)
	m.Unload(42) // must not panic
	if m.IsPartitionOwned(42) || m.IsPartitionLoading(42) {
		t.Fatal("unloading an absent partition must not create it")
	}
}

// TestStoreGroupAppliesOnSuccess covers the append pipeline's happy
// path: a store durably appends, then applies the transition in place.
func TestStoreGroupAppliesOnSuccess(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	awaitLoad(t, m.ScheduleLoad(ctx, 7, nil))

	groupID := groupIDRoutingTo(m, 7)
	m.AddGroup(model.NewGroupEntry(groupID))

	resultCh := make(chan errors.Error, 1)
	m.StoreGroup(ctx, groupID, model.GroupTransition{
		GenerationID: 5,
		State:        model.GroupStable,
		Members:      map[string]*model.Member{},
	}, func(e errors.Error) { resultCh <- e })

	select {
	case e := <-resultCh:
		if e.Code != errors.ErrNone.Code {
			t.Fatalf("expected success, got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StoreGroup did not complete in time")
	}

	g, ok := m.GetGroup(groupID)
	if !ok {
		t.Fatal("expected group to be cached")
	}
	g.RLock()
	defer g.RUnlock()
	if g.GenerationID != 5 || g.State != model.GroupStable {
		t.Fatalf("transition was not applied: %+v", g)
	}
}

// TestStoreGroupUnknownGroupIsNotCoordinator covers the pipeline's
// missing-entry path: storing against a group never seeded locally
// surfaces NotCoordinator rather than silently creating one.
func TestStoreGroupUnknownGroupIsNotCoordinator(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	awaitLoad(t, m.ScheduleLoad(ctx, 7, nil))

	groupID := groupIDRoutingTo(m, 7)
	resultCh := make(chan errors.Error, 1)
	m.StoreGroup(ctx, groupID, model.GroupTransition{State: model.GroupStable}, func(e errors.Error) {
		resultCh <- e
	})

	select {
	case e := <-resultCh:
		if e.Code != errors.ErrNotCoordinator.Code {
			t.Fatalf("expected NotCoordinator, got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StoreGroup did not complete in time")
	}
}
