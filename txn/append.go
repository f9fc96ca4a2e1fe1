package txn

import (
	"context"

	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/errors"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/model"
)

// RetryPredicate decides, given the coordinator error an append
// ultimately surfaced, whether the entry's staged pending state should
// be left in place for a retry (true) or cleared (false).
type RetryPredicate func(errors.Error) bool

// AppendTxn durably appends a proposed transaction transition and, if
// the append succeeds and the entry's epoch has not changed meanwhile,
// applies it in place. cb is invoked exactly once with the
// coordinator-facing result.
//
// expectedEpoch must match the epoch observed when the caller last
// read the entry. A mismatch at the start surfaces NotCoordinator
// without touching the log; a mismatch found once a successful append
// completes surfaces NotCoordinator and skips the in-memory apply, but
// the appended record stays in the log.
func (m *Manager) AppendTxn(ctx context.Context, transactionalID string, expectedEpoch int64, tr model.TxnTransition, retry RetryPredicate, cb func(errors.Error)) {
	s, stateErr := m.getState(transactionalID, nil)
	if stateErr != nil {
		cb(*stateErr)
		return
	}
	if s.entry == nil {
		cb(errors.ErrNotCoordinator)
		return
	}
	entry := s.entry

	entry.Lock()
	if s.epoch != expectedEpoch {
		entry.Unlock()
		cb(errors.ErrNotCoordinator)
		return
	}
	pending := tr.State
	entry.PendingState = &pending
	keyBytes := codec.EncodeTxnKey(transactionalID)
	valueBytes := codec.EncodeTxnValue(txnSnapshotWithTransition(entry, tr))
	p := m.PartitionFor(transactionalID)
	entry.Unlock()

	m.b.Append(ctx, m.topic, p, keyBytes, valueBytes, func(offset int64, err error) {
		status := appendStatusOf(err)
		m.completeAppendTxn(transactionalID, p, expectedEpoch, tr, status, retry, cb)
	})
}

func txnSnapshotWithTransition(entry *model.TxnEntry, tr model.TxnTransition) *model.TxnEntry {
	snap := entry.Snapshot()
	snap.ApplyTransition(tr)
	return &snap
}

func appendStatusOf(err error) errors.Error {
	if err == nil {
		return errors.ErrNone
	}
	return errors.ErrKafkaStorageError
}

func (m *Manager) completeAppendTxn(transactionalID string, p int, expectedEpoch int64, tr model.TxnTransition, status errors.Error, retry RetryPredicate, cb func(errors.Error)) {
	s, stateErr := m.getState(transactionalID, nil)

	if status.Code != errors.ErrNone.Code {
		outcome := errors.FromAppendStatus(status)
		if stateErr == nil && s.entry != nil && s.epoch == expectedEpoch {
			entry := s.entry
			entry.Lock()
			if retry == nil || !retry(outcome) {
				entry.PendingState = nil
			}
			entry.Unlock()
		}
		cb(outcome)
		return
	}

	if stateErr != nil {
		cb(*stateErr)
		return
	}
	if s.entry == nil || s.epoch != expectedEpoch {
		logging.Warn("txn: partition %v migrated during append for %v; discarding in-memory apply", p, transactionalID)
		cb(errors.ErrNotCoordinator)
		return
	}

	entry := s.entry
	entry.Lock()
	entry.ApplyTransition(tr)
	entry.Unlock()
	cb(errors.ErrNone)
}
