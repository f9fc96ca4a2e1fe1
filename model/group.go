// Package model holds the in-memory shapes the group and transaction
// managers cache per id: the committed state a successful append
// promotes an entry to, and the staged transit describing a proposed
// change that has not yet been made durable.
package model

import "sync"

// GroupState is one of a consumer group's lifecycle states.
type GroupState int

const (
	GroupEmpty GroupState = iota
	GroupPreparingRebalance
	GroupCompletingRebalance
	GroupStable
	GroupDead
)

func (s GroupState) String() string {
	switch s {
	case GroupEmpty:
		return "Empty"
	case GroupPreparingRebalance:
		return "PreparingRebalance"
	case GroupCompletingRebalance:
		return "CompletingRebalance"
	case GroupStable:
		return "Stable"
	case GroupDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// TopicPartition identifies a partition of a topic a group has
// committed an offset against.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// OffsetAndMetadata is a single committed-offset record.
type OffsetAndMetadata struct {
	Offset          int64
	LeaderEpoch     int32
	Metadata        string
	CommitTimestamp int64
}

// Member is one consumer group member.
type Member struct {
	MemberID           string
	ClientID           string
	ClientHost         string
	SessionTimeoutMs   int32
	RebalanceTimeoutMs int32
	Subscription       []byte
	Assignment         []byte
}

// GroupEntry is the cached state of one consumer group. All field
// access outside of construction must hold the embedded lock: the
// append pipeline, loader, and any frontend reads all go through it.
type GroupEntry struct {
	sync.RWMutex

	GroupID          string
	GenerationID     int32
	State            GroupState
	ProtocolType     string
	Protocol         string
	Leader           string
	Members          map[string]*Member
	CommittedOffsets map[TopicPartition]OffsetAndMetadata
}

// NewGroupEntry creates an empty group entry in the Empty state.
func NewGroupEntry(groupID string) *GroupEntry {
	return &GroupEntry{
		GroupID:          groupID,
		State:            GroupEmpty,
		Members:          make(map[string]*Member),
		CommittedOffsets: make(map[TopicPartition]OffsetAndMetadata),
	}
}

// Is reports whether the group is currently in the given state. Callers
// must hold at least a read lock.
func (g *GroupEntry) Is(s GroupState) bool {
	return g.State == s
}

// GroupTransition is the staged delta describing a proposed group
// state change (a new generation, membership, or set of committed
// offsets). It is built by a caller, appended to the log, and only
// applied to a GroupEntry once that append succeeds.
type GroupTransition struct {
	GenerationID     int32
	State            GroupState
	ProtocolType     string
	Protocol         string
	Leader           string
	Members          map[string]*Member
	CommittedOffsets map[TopicPartition]OffsetAndMetadata
}

// ApplyTransition commits a staged transition as the entry's current
// state. Callers must hold the write lock.
func (g *GroupEntry) ApplyTransition(tr GroupTransition) {
	g.GenerationID = tr.GenerationID
	g.State = tr.State
	g.ProtocolType = tr.ProtocolType
	g.Protocol = tr.Protocol
	g.Leader = tr.Leader
	g.Members = tr.Members
	g.CommittedOffsets = tr.CommittedOffsets
}

// Snapshot returns a shallow copy of the entry's durable fields for
// encoding. Callers must hold at least a read lock.
func (g *GroupEntry) Snapshot() GroupEntry {
	members := make(map[string]*Member, len(g.Members))
	for id, m := range g.Members {
		copied := *m
		members[id] = &copied
	}
	offsets := make(map[TopicPartition]OffsetAndMetadata, len(g.CommittedOffsets))
	for tp, o := range g.CommittedOffsets {
		offsets[tp] = o
	}
	return GroupEntry{
		GroupID:          g.GroupID,
		GenerationID:     g.GenerationID,
		State:            g.State,
		ProtocolType:     g.ProtocolType,
		Protocol:         g.Protocol,
		Leader:           g.Leader,
		Members:          members,
		CommittedOffsets: offsets,
	}
}
