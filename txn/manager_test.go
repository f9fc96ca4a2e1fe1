package txn

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/streamkop/coordinator/bus"
	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "coordinator-txn-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	b, err := bus.NewFileBus(dir, 0)
	if err != nil {
		t.Fatalf("NewFileBus: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return NewManager(b, "__transaction_state", 50, 60000)
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

func txnIDRoutingTo(m *Manager, p int) string {
	for i := 0; ; i++ {
		id := "t" + strconv.Itoa(i)
		if m.PartitionFor(id) == p {
			return id
		}
	}
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

func TestValidateTimeout(t *testing.T) {
	m := newTestManager(t)
	if m.ValidateTimeout(0) {
		t.Fatal("zero timeout must be rejected")
	}
	if m.ValidateTimeout(-1) {
		t.Fatal("negative timeout must be rejected")
	}
	if m.ValidateTimeout(60001) {
		t.Fatal("timeout above max must be rejected")
	}
	if !m.ValidateTimeout(60000) {
		t.Fatal("timeout equal to max must be accepted")
	}
}

// TestAppendTxnStaleEpochRejected covers S5: an append presenting an
// epoch older than the cached entry's must be rejected immediately,
// with no record written to the log.
func TestAppendTxnStaleEpochRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	awaitLoad(t, m.ScheduleLoad(ctx, 5, nil, 1000))

	transactionalID := txnIDRoutingTo(m, 5)
	seed := model.NewTxnEntry(transactionalID, 30000, 1000)
	seed.State = model.TxnOngoing
	m.PutTxnStateIfAbsent(seed)

	endBefore, err := m.b.EndOffset(ctx, m.topic, 5)
	if err != nil {
		t.Fatalf("EndOffset: %v", err)
	}

	// The single load above assigned partition 5 epoch 1; 0 is stale.
	resultCh := make(chan errors.Error, 1)
	m.AppendTxn(ctx, transactionalID, 0, model.TxnTransition{
		ProducerID: 1, State: model.TxnPrepareCommit, UpdateTimestampMs: 2000,
	}, nil, func(e errors.Error) { resultCh <- e })

	select {
	case e := <-resultCh:
		if e.Code != errors.ErrNotCoordinator.Code {
			t.Fatalf("expected NotCoordinator, got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AppendTxn did not complete in time")
	}

	endAfter, err := m.b.EndOffset(ctx, m.topic, 5)
	if err != nil {
		t.Fatalf("EndOffset: %v", err)
	}
	if endAfter != endBefore {
		t.Fatalf("expected no record written on stale epoch, end offset moved from %v to %v", endBefore, endAfter)
	}
}

// TestAppendTxnUnloadedDuringAppendIsNotCoordinator covers S4: if the
// partition is unloaded between the append's durable write and its
// completion callback, the caller observes NotCoordinator even though
// the record made it to the log.
func TestAppendTxnUnloadedDuringAppendIsNotCoordinator(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	awaitLoad(t, m.ScheduleLoad(ctx, 9, nil, 1000))

	transactionalID := txnIDRoutingTo(m, 9)
	seed := model.NewTxnEntry(transactionalID, 30000, 1000)
	seed.State = model.TxnOngoing
	m.PutTxnStateIfAbsent(seed)

	s, stateErr := m.getState(transactionalID, nil)
	if stateErr != nil {
		t.Fatalf("getState: %+v", stateErr)
	}

	resultCh := make(chan errors.Error, 1)
	m.b.Append(ctx, m.topic, 9, codec.EncodeTxnKey(transactionalID), codec.EncodeTxnValue(seed), func(offset int64, err error) {
		m.Unload(9)
		m.completeAppendTxn(transactionalID, 9, s.epoch, model.TxnTransition{State: model.TxnPrepareCommit}, appendStatusOf(err), nil, func(e errors.Error) {
			resultCh <- e
		})
	})

	select {
	case e := <-resultCh:
		if e.Code != errors.ErrNotCoordinator.Code {
			t.Fatalf("expected NotCoordinator after migration, got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AppendTxn did not complete in time")
	}

	records, err := m.b.Read(ctx, m.topic, 9, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	found := false
	for _, r := range records {
		if string(r.Key) == string(codec.EncodeTxnKey(transactionalID)) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the earlier durable append to remain in the log")
	}
}

// TestRecoverPendingCommitSendsMarkerOnLoad covers S6: a partition
// whose last durable record for a transaction is PrepareCommit must,
// after load, trigger exactly one sendMarkers call completing that
// commit.
func TestRecoverPendingCommitSendsMarkerOnLoad(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	transactionalID := txnIDRoutingTo(m, 4)
	entry := model.NewTxnEntry(transactionalID, 30000, 1000)
	entry.ProducerID = 42
	entry.ProducerEpoch = 7
	entry.State = model.TxnPrepareCommit
	entry.TopicPartitions = map[model.TopicPartition]struct{}{
		{Topic: "orders", Partition: 0}: {},
	}
	appendAndWait(t, m, 4, codec.EncodeTxnKey(transactionalID), codec.EncodeTxnValue(entry))

	var calls int
	var gotTransit model.TxnTransition
	done := m.ScheduleLoad(ctx, 4, func(e *model.TxnEntry, transit model.TxnTransition) {
		calls++
		gotTransit = transit
	}, 5000)
	awaitLoad(t, done)

	if !m.IsPartitionOwned(4) {
		t.Fatal("expected partition 4 to be fully owned after recovery")
	}
	if calls != 1 {
		t.Fatalf("expected sendMarkers to be invoked exactly once, got %v", calls)
	}
	if gotTransit.State != model.TxnCompleteCommit {
		t.Fatalf("expected transit to CompleteCommit, got %v", gotTransit.State)
	}
	if gotTransit.ProducerID != 42 || gotTransit.ProducerEpoch != 7 {
		t.Fatalf("expected recovered producer identity preserved, got %+v", gotTransit)
	}
}

func TestScheduleLoadIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	done1 := m.ScheduleLoad(ctx, 1, nil, 1000)
	done2 := m.ScheduleLoad(ctx, 1, nil, 1000)
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
