package txn

import (
	"context"
	"fmt"

	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/model"
)

// ScheduleLoad drains partition p into the cache, promotes it to
// owned, and resumes any transaction left mid-commit or mid-abort.
// sendMarkers is invoked once per transaction recovered in
// PrepareCommit or PrepareAbort, with the transit that would complete
// it; nil is accepted when no participant needs resending (e.g. in
// tests).
//
// Calling ScheduleLoad on a partition that is already loading or owned
// is a no-op.
func (m *Manager) ScheduleLoad(ctx context.Context, p int, sendMarkers SendTxnMarkers, nowMs int64) <-chan error {
	done := make(chan error, 1)

	if !m.addLoadingPartition(p) {
		logging.Info("txn: partition %v already loading or owned", p)
		done <- nil
		return done
	}

	m.stateLock.Lock()
	m.cache[p] = &partitionCache{txns: make(map[string]*model.TxnEntry)}
	m.epoch[p]++
	m.stateLock.Unlock()

	go func() {
		err := m.doLoad(ctx, p, sendMarkers, nowMs)
		if err != nil {
			m.abandonLoad(p)
			m.stateLock.Lock()
			delete(m.cache, p)
			m.stateLock.Unlock()
			logging.Error("txn: load of partition %v failed: %v", p, err)
		} else if !m.promoteToOwned(p) {
			logging.Info("txn: partition %v unloaded while loading; abandoning staged state", p)
			m.stateLock.Lock()
			delete(m.cache, p)
			m.stateLock.Unlock()
		}
		done <- err
	}()

	return done
}

func (m *Manager) doLoad(ctx context.Context, p int, sendMarkers SendTxnMarkers, nowMs int64) error {
	endOffset, err := m.appendPlaceholder(ctx, p)
	if err != nil {
		return fmt.Errorf("txn: placeholder append for partition %v: %w", p, err)
	}

	records, err := m.b.Read(ctx, m.topic, p, 0)
	if err != nil {
		return fmt.Errorf("txn: reading partition %v: %w", p, err)
	}

	loaded := make(map[string]*model.TxnEntry)

	for _, rec := range records {
		if rec.Offset >= endOffset {
			break
		}
		if rec.Key == nil {
			continue // placeholder record
		}

		transactionalID, err := codec.DecodeTxnKey(rec.Key)
		if err != nil {
			return fmt.Errorf("txn: decoding key at offset %v: %w", rec.Offset, err)
		}

		if len(rec.Value) == 0 {
			delete(loaded, transactionalID)
			continue
		}

		entry, err := codec.DecodeTxnValue(transactionalID, rec.Value)
		if err != nil {
			return fmt.Errorf("txn: decoding value for %v at offset %v: %w", transactionalID, rec.Offset, err)
		}
		loaded[transactionalID] = entry
	}

	// Commit the whole staged map at once: unlike the group manager,
	// there is no cross-broker race to reconcile here because a
	// transaction's cache is wholly owned by the partition it belongs
	// to, so a wholesale replace is safe.
	m.stateLock.Lock()
	pc := m.cache[p]
	for id, entry := range loaded {
		pc.txns[id] = entry
	}
	m.stateLock.Unlock()

	for _, entry := range loaded {
		entry.RLock()
		needsRecovery := entry.Is(model.TxnPrepareCommit) || entry.Is(model.TxnPrepareAbort)
		entry.RUnlock()
		if !needsRecovery {
			continue
		}

		// Re-check partition ownership is still in flight before acting:
		// an unload racing ahead of us must cause this sweep to abandon
		// its recovery rather than resurrect a dropped partition.
		if !m.IsPartitionLoading(p) {
			return nil
		}

		entry.Lock()
		completionState := model.TxnCompleteAbort
		if entry.Is(model.TxnPrepareCommit) {
			completionState = model.TxnCompleteCommit
		}
		transit := model.TxnTransition{
			ProducerID:        entry.ProducerID,
			ProducerEpoch:     entry.ProducerEpoch,
			State:             completionState,
			TopicPartitions:   entry.TopicPartitions,
			TimeoutMs:         entry.TimeoutMs,
			UpdateTimestampMs: nowMs,
		}
		pending := completionState
		entry.PendingState = &pending
		entry.Unlock()

		if sendMarkers != nil {
			sendMarkers(entry, transit)
		}
	}

	return nil
}
