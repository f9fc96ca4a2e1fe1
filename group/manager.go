// Package group implements the group metadata manager: the cache of
// consumer-group state backed by a compacted bus partition, and the
// lifecycle/append machinery that keeps the cache consistent with the
// log as partition ownership migrates between brokers.
package group

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/streamkop/coordinator/bus"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/model"
	"github.com/streamkop/coordinator/router"
)

// tombstoneCacheSize bounds how many recently-tombstoned group ids are
// remembered across loads. The spec calls this a hook for future
// offset-cleanup work; it is not consumed by anything yet.
const tombstoneCacheSize = 4096

// Manager is the group metadata manager for one broker. It is
// authoritative for a subset of the group metadata topic's partitions,
// tracked as they load and unload.
type Manager struct {
	b             bus.Bus
	topic         string
	numPartitions int

	partLock sync.Mutex
	loading  map[int]struct{}
	owned    map[int]struct{}

	stateLock sync.RWMutex
	cache     map[int]*partitionCache
	epoch     map[int]int64

	tombstoned *lru.Cache
}

// NewManager creates a group metadata manager over the given bus and
// group metadata topic, with numPartitions fixed partitions.
func NewManager(b bus.Bus, topic string, numPartitions int) *Manager {
	tombstoned, err := lru.New(tombstoneCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which is a
		// programmer error given the constant above.
		logging.Panic("group: failed to create tombstone cache: %v", err)
	}
	return &Manager{
		b:             b,
		topic:         topic,
		numPartitions: numPartitions,
		loading:       make(map[int]struct{}),
		owned:         make(map[int]struct{}),
		cache:         make(map[int]*partitionCache),
		epoch:         make(map[int]int64),
		tombstoned:    tombstoned,
	}
}

// PartitionFor routes a group id to its owning partition index.
func (m *Manager) PartitionFor(groupID string) int {
	return router.RouteGroup(groupID, m.numPartitions)
}

// IsPartitionOwned reports whether this manager currently owns p.
func (m *Manager) IsPartitionOwned(p int) bool {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	_, ok := m.owned[p]
	return ok
}

// IsPartitionLoading reports whether p is mid-drain.
func (m *Manager) IsPartitionLoading(p int) bool {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	_, ok := m.loading[p]
	return ok
}

// AnyLoading reports whether any partition is currently loading.
func (m *Manager) AnyLoading() bool {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	return len(m.loading) > 0
}

// IsGroupLocal reports whether groupID's partition is owned here.
func (m *Manager) IsGroupLocal(groupID string) bool {
	return m.IsPartitionOwned(m.PartitionFor(groupID))
}

// IsGroupLoading reports whether groupID's partition is mid-drain.
func (m *Manager) IsGroupLoading(groupID string) bool {
	return m.IsPartitionLoading(m.PartitionFor(groupID))
}

// addLoadingPartition adds p to the loading set, returning true if it
// was not already loading or owned.
func (m *Manager) addLoadingPartition(p int) bool {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	if _, ok := m.loading[p]; ok {
		return false
	}
	if _, ok := m.owned[p]; ok {
		return false
	}
	m.loading[p] = struct{}{}
	return true
}

// promoteToOwned moves p from loading to owned. It is a no-op if p is
// no longer loading (an unload raced ahead of us).
func (m *Manager) promoteToOwned(p int) bool {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	if _, ok := m.loading[p]; !ok {
		return false
	}
	delete(m.loading, p)
	m.owned[p] = struct{}{}
	return true
}

func (m *Manager) abandonLoad(p int) {
	m.partLock.Lock()
	defer m.partLock.Unlock()
	delete(m.loading, p)
}

// groupState is the result of the canonical get_state read path: the
// coordinator epoch an entry was observed at, paired with the entry
// itself.
type groupState struct {
	epoch int64
	entry *model.GroupEntry
}

// getState implements the cache's canonical read: loading partitions
// surface CoordinatorLoadInProgress, an unowned partition surfaces
// NotCoordinator, and a cache miss optionally seeds a fresh entry.
func (m *Manager) getState(groupID string, seed *model.GroupEntry) (groupState, *errors.Error) {
	if m.IsGroupLoading(groupID) {
		return groupState{}, &errors.ErrCoordinatorLoadInProgress
	}

	p := m.PartitionFor(groupID)

	m.stateLock.Lock()
	defer m.stateLock.Unlock()

	pc, ok := m.cache[p]
	if !ok {
		return groupState{}, &errors.ErrNotCoordinator
	}

	entry, ok := pc.get(groupID)
	if !ok {
		if seed == nil {
			return groupState{}, nil
		}
		pc.put(seed)
		entry = seed
	}
	return groupState{epoch: m.epoch[p], entry: entry}, nil
}

// GetGroup returns the cached entry for groupID, if any.
func (m *Manager) GetGroup(groupID string) (*model.GroupEntry, bool) {
	s, err := m.getState(groupID, nil)
	if err != nil || s.entry == nil {
		return nil, false
	}
	return s.entry, true
}

// AddGroup inserts group if absent, returning whichever entry ends up
// cached (the new one, or a pre-existing one it lost the race to).
func (m *Manager) AddGroup(group *model.GroupEntry) *model.GroupEntry {
	s, err := m.getState(group.GroupID, group)
	if err != nil {
		return group
	}
	return s.entry
}

// GroupNotExists reports whether the group's partition is owned here
// and the group is either absent or Dead.
func (m *Manager) GroupNotExists(groupID string) bool {
	if !m.IsGroupLocal(groupID) {
		return false
	}
	g, ok := m.GetGroup(groupID)
	if !ok {
		return true
	}
	g.RLock()
	defer g.RUnlock()
	return g.Is(model.GroupDead)
}

// CurrentGroups returns every group entry cached across every owned
// partition, in ascending group-id order. The returned slice is a
// point-in-time snapshot of pointers; callers must still lock an entry
// before reading its fields.
func (m *Manager) CurrentGroups() []*model.GroupEntry {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	var out []*model.GroupEntry
	for _, pc := range m.cache {
		out = append(out, pc.all()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// GroupsFor returns every group entry cached for partition p, in
// ascending group-id order.
func (m *Manager) GroupsFor(p int) []*model.GroupEntry {
	m.stateLock.RLock()
	defer m.stateLock.RUnlock()
	pc, ok := m.cache[p]
	if !ok {
		return nil
	}
	return pc.all()
}

func (m *Manager) appendPlaceholder(ctx context.Context, p int) (int64, error) {
	result := make(chan struct {
		offset int64
		err    error
	}, 1)
	m.b.Append(ctx, m.topic, p, nil, nil, func(offset int64, err error) {
		result <- struct {
			offset int64
			err    error
		}{offset, err}
	})
	r := <-result
	return r.offset, r.err
}

func (m *Manager) String() string {
	return fmt.Sprintf("group.Manager{topic=%v, partitions=%v}", m.topic, m.numPartitions)
}
