// Package txn implements the transaction state manager: the cache of
// in-flight transaction metadata backed by a compacted bus partition,
// mirroring the group manager's lifecycle and append machinery but
// with a staged pending-state slot per entry so a transaction recovers
// cleanly if it crashes mid-commit.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamkop/coordinator/bus"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/model"
	"github.com/streamkop/coordinator/router"
)

// partitionCache is the per-partition slice of the transaction cache.
type partitionCache struct {
	txns map[string]*model.TxnEntry
}

// SendTxnMarkers is invoked once per transaction recovered in
// PrepareCommit or PrepareAbort state after a load completes; it is
// the hook through which the post-recovery sweep asks an external
// collaborator to resend commit/abort markers to participants.
type SendTxnMarkers func(entry *model.TxnEntry, transit model.TxnTransition)

// Manager is the transaction state manager for one broker.
type Manager struct {
	b             bus.Bus
	topic         string
	numPartitions int
	maxTimeoutMs  int32

	partLock sync.Mutex
	loading  map[int]struct{}
	owned    map[int]struct{}

	stateLock sync.RWMutex
	cache     map[int]*partitionCache
	epoch     map[int]int64
}

// NewManager creates a transaction state manager over the given bus
// and transaction log topic, with numPartitions fixed partitions.
func NewManager(b bus.Bus, topic string, numPartitions int, maxTimeoutMs int32) *Manager {
	return &Manager{
		b:             b,
		topic:         topic,
		numPartitions: numPartitions,
		maxTimeoutMs:  maxTimeoutMs,
		loading:       make(map[int]struct{}),
		owned:         make(map[int]struct{}),
		cache:         make(map[int]*partitionCache),
		epoch:         make(map[int]int64),
	}
}

// PartitionFor routes a transactional id to its owning partition.
func (m *Manager) PartitionFor(transactionalID string) int {
	return router.RouteTxn(transactionalID, m.numPartitions)
}

// ValidateTimeout checks a requested transaction timeout against the
// manager's configured policy: 0 < ms <= max_timeout.
func (m *Manager) ValidateTimeout(ms int32) bool {
	return ms > 0 && ms <= m.maxTimeoutMs
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

// txnState is the result of the canonical get_state read path.
type txnState struct {
	epoch int64
	entry *model.TxnEntry
}

func (m *Manager) getState(transactionalID string, seed *model.TxnEntry) (txnState, *errors.Error) {
	if m.IsPartitionLoading(m.PartitionFor(transactionalID)) {
		return txnState{}, &errors.ErrConcurrentTransactions
	}

	p := m.PartitionFor(transactionalID)

	m.stateLock.Lock()
	defer m.stateLock.Unlock()

	pc, ok := m.cache[p]
	if !ok {
		return txnState{}, &errors.ErrNotCoordinator
	}

	entry, ok := pc.txns[transactionalID]
	if !ok {
		if seed == nil {
			return txnState{}, nil
		}
		pc.txns[transactionalID] = seed
		entry = seed
	}
	return txnState{epoch: m.epoch[p], entry: entry}, nil
}

// GetTxnState returns the cached entry for transactionalID, if any.
func (m *Manager) GetTxnState(transactionalID string) (*model.TxnEntry, bool) {
	s, err := m.getState(transactionalID, nil)
	if err != nil || s.entry == nil {
		return nil, false
	}
	return s.entry, true
}

// PutTxnStateIfAbsent seeds a new transaction entry if one is not
// already cached, returning whichever entry ends up cached.
func (m *Manager) PutTxnStateIfAbsent(entry *model.TxnEntry) *model.TxnEntry {
	s, err := m.getState(entry.TransactionalID, entry)
	if err != nil {
		return entry
	}
	return s.entry
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
	return fmt.Sprintf("txn.Manager{topic=%v, partitions=%v}", m.topic, m.numPartitions)
}
