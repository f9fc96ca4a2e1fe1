package group

import (
	"github.com/google/btree"

	"github.com/streamkop/coordinator/model"
)

// groupItem is the btree element backing a partitionCache: group
// entries ordered by id so CurrentGroups and GroupsFor enumerate in a
// stable, repeatable order rather than Go's randomized map iteration.
type groupItem struct {
	id    string
	entry *model.GroupEntry
}

func lessGroupItem(a, b *groupItem) bool {
	return a.id < b.id
}

// partitionCache is the per-partition slice of the metadata cache.
// Mutation of the key set (inserting or deleting a group id) is
// guarded by Manager.stateLock; mutation of an individual entry's
// fields is guarded by that entry's own lock.
type partitionCache struct {
	groups *btree.BTreeG[*groupItem]
}

func newPartitionCache() *partitionCache {
	return &partitionCache{groups: btree.NewG(32, lessGroupItem)}
}

func (pc *partitionCache) get(groupID string) (*model.GroupEntry, bool) {
	item, ok := pc.groups.Get(&groupItem{id: groupID})
	if !ok {
		return nil, false
	}
	return item.entry, true
}

func (pc *partitionCache) put(entry *model.GroupEntry) {
	pc.groups.ReplaceOrInsert(&groupItem{id: entry.GroupID, entry: entry})
}

func (pc *partitionCache) delete(groupID string) {
	pc.groups.Delete(&groupItem{id: groupID})
}

// all returns every cached entry in ascending group-id order.
func (pc *partitionCache) all() []*model.GroupEntry {
	out := make([]*model.GroupEntry, 0, pc.groups.Len())
	pc.groups.Ascend(func(item *groupItem) bool {
		out = append(out, item.entry)
		return true
	})
	return out
}
