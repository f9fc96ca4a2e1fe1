package model

import "sync"

// TxnState is one of a transaction's lifecycle states.
type TxnState int8

const (
	TxnEmpty TxnState = iota
	TxnOngoing
	TxnPrepareCommit
	TxnPrepareAbort
	TxnCompleteCommit
	TxnCompleteAbort
	TxnDead
)

func (s TxnState) String() string {
	switch s {
	case TxnEmpty:
		return "Empty"
	case TxnOngoing:
		return "Ongoing"
	case TxnPrepareCommit:
		return "PrepareCommit"
	case TxnPrepareAbort:
		return "PrepareAbort"
	case TxnCompleteCommit:
		return "CompleteCommit"
	case TxnCompleteAbort:
		return "CompleteAbort"
	case TxnDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// TxnTransition is the staged delta describing a proposed transaction
// state change. It is built by a caller, appended to the log, and only
// applied to a TxnEntry once that append succeeds.
type TxnTransition struct {
	ProducerID        int64
	ProducerEpoch     int16
	State             TxnState
	TopicPartitions   map[TopicPartition]struct{}
	TimeoutMs         int32
	UpdateTimestampMs int64
}

// TxnEntry is the cached state of one transactional id. All field
// access outside of construction must hold the embedded lock.
type TxnEntry struct {
	sync.RWMutex

	TransactionalID       string
	ProducerID            int64
	ProducerEpoch         int16
	State                 TxnState
	PendingState          *TxnState
	TopicPartitions       map[TopicPartition]struct{}
	TimeoutMs             int32
	LastUpdateTimestampMs int64
	StartTimestampMs      int64
}

// NewTxnEntry creates an empty transaction entry.
func NewTxnEntry(transactionalID string, timeoutMs int32, nowMs int64) *TxnEntry {
	return &TxnEntry{
		TransactionalID:       transactionalID,
		ProducerID:            -1,
		ProducerEpoch:         -1,
		State:                 TxnEmpty,
		TopicPartitions:       make(map[TopicPartition]struct{}),
		TimeoutMs:             timeoutMs,
		LastUpdateTimestampMs: nowMs,
		StartTimestampMs:      nowMs,
	}
}

// Is reports whether the transaction is currently in the given state.
// Callers must hold at least a read lock.
func (t *TxnEntry) Is(s TxnState) bool {
	return t.State == s
}

// ApplyTransition commits a staged transition as the entry's current
// state. Callers must hold the write lock.
func (t *TxnEntry) ApplyTransition(tr TxnTransition) {
	t.ProducerID = tr.ProducerID
	t.ProducerEpoch = tr.ProducerEpoch
	t.State = tr.State
	t.TopicPartitions = tr.TopicPartitions
	t.TimeoutMs = tr.TimeoutMs
	t.LastUpdateTimestampMs = tr.UpdateTimestampMs
	t.PendingState = nil
}

// Snapshot returns a shallow copy of the entry's durable fields for
// encoding. Callers must hold at least a read lock.
func (t *TxnEntry) Snapshot() TxnEntry {
	partitions := make(map[TopicPartition]struct{}, len(t.TopicPartitions))
	for tp := range t.TopicPartitions {
		partitions[tp] = struct{}{}
	}
	return TxnEntry{
		TransactionalID:       t.TransactionalID,
		ProducerID:            t.ProducerID,
		ProducerEpoch:         t.ProducerEpoch,
		State:                 t.State,
		TopicPartitions:       partitions,
		TimeoutMs:             t.TimeoutMs,
		LastUpdateTimestampMs: t.LastUpdateTimestampMs,
		StartTimestampMs:      t.StartTimestampMs,
	}
}
