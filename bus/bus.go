// Package bus defines the log abstraction the coordinator managers are
// built against: an append-only, partitioned, compacted message bus.
// Every coordinator partition is backed by one bus partition; the
// managers never touch files directly, only this interface, so the
// file-backed implementation in this package can be swapped for a
// replicated one without touching manager code.
package bus

import "context"

// Record is a single message read back from a partition. A nil Value
// marks a tombstone: the key's prior value should be erased from any
// cache built by replaying the partition.
type Record struct {
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp int64
}

// AppendCallback is invoked once an append has been durably accepted
// or has failed. It always runs on a goroutine distinct from the
// caller of Append.
type AppendCallback func(offset int64, err error)

// Producer appends records to bus partitions. Append is asynchronous:
// it returns immediately and the outcome is delivered to cb.
type Producer interface {
	Append(ctx context.Context, topic string, partition int, key, value []byte, cb AppendCallback)
}

// Reader replays bus partitions from a given offset.
type Reader interface {
	// Read returns every record in [fromOffset, EndOffset) in order.
	Read(ctx context.Context, topic string, partition int, fromOffset int64) ([]Record, error)
	// EndOffset returns the offset one past the last record appended
	// to the partition, i.e. the offset the next append will receive.
	EndOffset(ctx context.Context, topic string, partition int) (int64, error)
}

// Bus is the full surface the coordinator managers depend on.
type Bus interface {
	Producer
	Reader
}
