package group

import "github.com/streamkop/coordinator/logging"

// Unload drops partition p: it is removed from both the loading and
// owned sets and its cached groups are discarded. Unloading an absent
// partition is a no-op.
//
// If a load of p is still in flight, this only removes p from the
// owned/loading bookkeeping; the loader's own completion path
// re-checks that bookkeeping before promoting its staged state, so a
// racing load safely abandons itself instead of resurrecting the
// partition.
func (m *Manager) Unload(p int) {
	m.partLock.Lock()
	_, wasLoading := m.loading[p]
	_, wasOwned := m.owned[p]
	delete(m.loading, p)
	delete(m.owned, p)
	m.partLock.Unlock()

	if !wasLoading && !wasOwned {
		return
	}

	m.stateLock.Lock()
	delete(m.cache, p)
	delete(m.epoch, p)
	m.stateLock.Unlock()

	logging.Info("group: unloaded partition %v", p)
}
