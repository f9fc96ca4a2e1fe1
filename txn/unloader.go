package txn

import "github.com/streamkop/coordinator/logging"

// Unload drops partition p: it is removed from both the loading and
// owned sets and its cached transactions are discarded. Unloading an
// absent partition is a no-op.
//
// As with the group manager, a load still in flight for p simply loses
// the owned/loading bookkeeping out from under it; the loader's
// post-recovery sweep re-checks IsPartitionLoading before acting on
// any recovered entry and abandons itself if this ran first.
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

	logging.Info("txn: unloaded partition %v", p)
}
