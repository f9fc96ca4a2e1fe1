package group

import (
	"context"

	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/model"
)

// StoreGroup durably appends a group snapshot and, once the append is
// acknowledged, applies it to the cached entry in place. cb is invoked
// exactly once with the coordinator-facing result.
//
// No lock is held while the append is in flight: the cache's state
// lock is taken only inside getState, and the entry lock only while
// the record is encoded. An unloader is therefore not held back by an
// in-flight append; instead, the completion path re-reads the entry
// and its epoch and surfaces NotCoordinator, without applying the
// transition, if the partition was dropped or reloaded meanwhile.
func (m *Manager) StoreGroup(ctx context.Context, groupID string, tr model.GroupTransition, cb func(errors.Error)) {
	s, stateErr := m.getState(groupID, nil)
	if stateErr != nil {
		cb(*stateErr)
		return
	}
	if s.entry == nil {
		cb(errors.ErrNotCoordinator)
		return
	}
	expectedEpoch := s.epoch
	entry := s.entry

	entry.Lock()
	keyBytes := codec.EncodeGroupKey(groupID)
	valueBytes := codec.EncodeGroupValue(groupSnapshotWithTransition(entry, tr))
	p := m.PartitionFor(groupID)
	entry.Unlock()

	m.b.Append(ctx, m.topic, p, keyBytes, valueBytes, func(offset int64, err error) {
		status := appendStatusOf(err)
		m.completeStoreGroup(groupID, p, expectedEpoch, tr, status, cb)
	})
}

// groupSnapshotWithTransition builds the value to encode: the entry's
// current identity with the proposed transition's fields layered on.
func groupSnapshotWithTransition(entry *model.GroupEntry, tr model.GroupTransition) *model.GroupEntry {
	snap := entry.Snapshot()
	snap.ApplyTransition(tr)
	return &snap
}

// appendStatusOf classifies a bus append error into the coordinator's
// wire error taxonomy. A nil err is success.
func appendStatusOf(err error) errors.Error {
	if err == nil {
		return errors.ErrNone
	}
	// The reference bus only ever returns filesystem errors, which this
	// coordinator treats as storage errors; a networked bus would
	// instead report one of the append-status codes in errors.ErrorMap
	// directly.
	return errors.ErrKafkaStorageError
}

func (m *Manager) completeStoreGroup(groupID string, p int, expectedEpoch int64, tr model.GroupTransition, status errors.Error, cb func(errors.Error)) {
	if status.Code != errors.ErrNone.Code {
		cb(errors.FromAppendStatus(status))
		return
	}

	s, stateErr := m.getState(groupID, nil)
	if stateErr != nil {
		cb(*stateErr)
		return
	}
	if s.entry == nil || s.epoch != expectedEpoch {
		logging.Warn("group: partition %v migrated during append for %v; discarding in-memory apply", p, groupID)
		cb(errors.ErrNotCoordinator)
		return
	}

	s.entry.Lock()
	s.entry.ApplyTransition(tr)
	s.entry.Unlock()
	cb(errors.ErrNone)
}
