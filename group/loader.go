package group

import (
	"context"
	"fmt"

	"github.com/streamkop/coordinator/codec"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/model"
)

// ScheduleLoad drains partition p into the cache and promotes it to
// owned. onLoaded is invoked once per group discovered in the drain,
// in no particular order. The returned channel receives exactly one
// value: nil on success, or the error that aborted the load.
//
// Calling ScheduleLoad on a partition that is already loading or owned
// is a no-op: the returned channel already holds a nil error, without
// waiting for the load in flight, mirroring addLoadingPartition's
// idempotence.
func (m *Manager) ScheduleLoad(ctx context.Context, p int, onLoaded func(*model.GroupEntry)) <-chan error {
	done := make(chan error, 1)

	if !m.addLoadingPartition(p) {
		logging.Info("group: partition %v already loading or owned", p)
		done <- nil
		return done
	}

	m.stateLock.Lock()
	m.cache[p] = newPartitionCache()
	m.epoch[p]++
	m.stateLock.Unlock()

	go func() {
		err := m.doLoad(ctx, p, onLoaded)
		if err != nil {
			m.abandonLoad(p)
			m.stateLock.Lock()
			delete(m.cache, p)
			m.stateLock.Unlock()
			logging.Error("group: load of partition %v failed: %v", p, err)
		} else if !m.promoteToOwned(p) {
			logging.Info("group: partition %v unloaded while loading; abandoning staged state", p)
			m.stateLock.Lock()
			delete(m.cache, p)
			m.stateLock.Unlock()
		}
		done <- err
	}()

	return done
}

func (m *Manager) doLoad(ctx context.Context, p int, onLoaded func(*model.GroupEntry)) error {
	endOffset, err := m.appendPlaceholder(ctx, p)
	if err != nil {
		return fmt.Errorf("group: placeholder append for partition %v: %w", p, err)
	}

	records, err := m.b.Read(ctx, m.topic, p, 0)
	if err != nil {
		return fmt.Errorf("group: reading partition %v: %w", p, err)
	}

	loaded := make(map[string]*model.GroupEntry)
	removed := make(map[string]struct{})

	for _, rec := range records {
		if rec.Offset >= endOffset {
			break
		}
		if rec.Key == nil {
			continue // placeholder record
		}

		groupID, err := codec.DecodeGroupKey(rec.Key)
		if err != nil {
			return fmt.Errorf("group: decoding key at offset %v: %w", rec.Offset, err)
		}

		if len(rec.Value) == 0 {
			delete(loaded, groupID)
			removed[groupID] = struct{}{}
			continue
		}

		entry, err := codec.DecodeGroupValue(groupID, rec.Value)
		if err != nil {
			return fmt.Errorf("group: decoding value for %v at offset %v: %w", groupID, rec.Offset, err)
		}
		delete(removed, groupID)
		loaded[groupID] = entry
	}

	m.stateLock.Lock()
	pc := m.cache[p]
	m.stateLock.Unlock()

	for _, g := range loaded {
		m.loadGroup(pc, g)
		if onLoaded != nil {
			onLoaded(g)
		}
	}

	for groupID := range removed {
		m.tombstoned.Add(groupID, struct{}{})
		// TODO: add offsets later - see the upstream manager this was
		// ported from; per-topic offset cleanup on group removal is
		// not implemented.
	}

	return nil
}

// loadGroup inserts group into pc if absent, logging a conflict if a
// racing writer already cached a different entry for the same id.
func (m *Manager) loadGroup(pc *partitionCache, group *model.GroupEntry) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	existing, ok := pc.get(group.GroupID)
	if !ok {
		pc.put(group)
		return
	}
	if existing != group {
		logging.Debug("group: attempt to load group %v with generation %v failed because there is already a cached group with generation %v",
			group.GroupID, group.GenerationID, existing.GenerationID)
	}
}
