package bus

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/serde"
	"github.com/streamkop/coordinator/utils"
)

const indexEntrySize = 16 // offset (int64) + position (int64)

// filePartition is one append-only log file plus its offset index (one
// entry per record), the on-disk shape of a single bus partition.
type filePartition struct {
	logFile   *os.File
	indexFile *os.File
	index     []byte // flat index entries, 16 bytes each
	endOffset int64  // offset the next append will receive
	nextPos   int64  // byte position the next append will be written at
	sync.RWMutex
}

// FileBus is a Bus backed by one log+index file pair per partition,
// grounded on the broker's own append-only segment layout. It is meant
// as the reference bus used in tests and single-node deployments; a
// replicated bus can satisfy the same interface.
type FileBus struct {
	dir        string
	attributes uint16 // compression attributes applied to every append

	mu         sync.Mutex
	partitions map[string]*filePartition
}

// NewFileBus creates a bus rooted at dir, creating it if necessary.
func NewFileBus(dir string, compressionAttributes uint16) (*FileBus, error) {
	if err := utils.EnsurePath(dir, true); err != nil {
		return nil, fmt.Errorf("bus: creating root dir: %w", err)
	}
	return &FileBus{
		dir:        dir,
		attributes: compressionAttributes,
		partitions: make(map[string]*filePartition),
	}, nil
}

func partitionKey(topic string, partition int) string {
	return fmt.Sprintf("%s-%d", topic, partition)
}

func (b *FileBus) partitionDir(topic string, partition int) string {
	return filepath.Join(b.dir, partitionKey(topic, partition))
}

func (b *FileBus) getOrOpenPartition(topic string, partition int) (*filePartition, error) {
	key := partitionKey(topic, partition)

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.partitions[key]; ok {
		return p, nil
	}

	dir := b.partitionDir(topic, partition)
	if err := utils.EnsurePath(dir, true); err != nil {
		return nil, fmt.Errorf("bus: creating partition dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "partition.log"), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("bus: opening log file: %w", err)
	}
	indexFile, err := os.OpenFile(filepath.Join(dir, "partition.index"), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("bus: opening index file: %w", err)
	}
	indexData, err := io.ReadAll(indexFile)
	if err != nil {
		return nil, fmt.Errorf("bus: reading index file: %w", err)
	}
	stat, err := logFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("bus: stat log file: %w", err)
	}

	p := &filePartition{
		logFile:   logFile,
		indexFile: indexFile,
		index:     indexData,
		nextPos:   stat.Size(),
	}
	if n := len(indexData) / indexEntrySize; n > 0 {
		lastOffset := int64(serde.Encoding.Uint64(indexData[(n-1)*indexEntrySize:]))
		p.endOffset = lastOffset + 1
	}
	b.partitions[key] = p
	logging.Debug("bus: opened partition %v at endOffset %v", key, p.endOffset)
	return p, nil
}

// Append implements Producer. It runs the write inline and delivers cb
// on a separate goroutine, matching a networked bus's contract that
// the caller never blocks waiting on the callback.
func (b *FileBus) Append(ctx context.Context, topic string, partition int, key, value []byte, cb AppendCallback) {
	p, err := b.getOrOpenPartition(topic, partition)
	if err != nil {
		go cb(0, err)
		return
	}

	p.Lock()
	offset := p.endOffset
	recordBytes := encodeBatch(key, value, b.attributes, utils.NowAsUnixMilli())
	serde.Encoding.PutUint64(recordBytes, uint64(offset))

	n, writeErr := p.logFile.WriteAt(recordBytes, p.nextPos)
	if writeErr == nil && n != len(recordBytes) {
		writeErr = fmt.Errorf("bus: short write: wrote %d of %d bytes", n, len(recordBytes))
	}
	if writeErr != nil {
		p.Unlock()
		go cb(0, writeErr)
		return
	}

	entry := make([]byte, indexEntrySize)
	serde.Encoding.PutUint64(entry, uint64(offset))
	serde.Encoding.PutUint64(entry[8:], uint64(p.nextPos))
	if _, err := p.indexFile.WriteAt(entry, int64(len(p.index))); err != nil {
		p.Unlock()
		go cb(0, fmt.Errorf("bus: writing index entry: %w", err))
		return
	}
	p.index = append(p.index, entry...)
	p.nextPos += int64(len(recordBytes))
	p.endOffset = offset + 1
	p.Unlock()

	go cb(offset, nil)
}

// Read implements Reader.
func (b *FileBus) Read(ctx context.Context, topic string, partition int, fromOffset int64) ([]Record, error) {
	p, err := b.getOrOpenPartition(topic, partition)
	if err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	numEntries := len(p.index) / indexEntrySize
	if fromOffset >= p.endOffset || numEntries == 0 {
		return nil, nil
	}

	startEntry := indexEntryFor(p.index, fromOffset)
	records := make([]Record, 0, numEntries-startEntry)
	for i := startEntry; i < numEntries; i++ {
		offset := int64(serde.Encoding.Uint64(p.index[i*indexEntrySize:]))
		pos := int64(serde.Encoding.Uint64(p.index[i*indexEntrySize+8:]))
		var end int64
		if i+1 < numEntries {
			end = int64(serde.Encoding.Uint64(p.index[(i+1)*indexEntrySize+8:]))
		} else {
			end = p.nextPos
		}

		raw := make([]byte, end-pos)
		if _, err := p.logFile.ReadAt(raw, pos); err != nil {
			return nil, fmt.Errorf("bus: reading record at offset %d: %w", offset, err)
		}
		rec, err := decodeBatch(raw, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// EndOffset implements Reader.
func (b *FileBus) EndOffset(ctx context.Context, topic string, partition int) (int64, error) {
	p, err := b.getOrOpenPartition(topic, partition)
	if err != nil {
		return 0, err
	}
	p.RLock()
	defer p.RUnlock()
	return p.endOffset, nil
}

// indexEntryFor binary-searches for the first index entry whose offset
// is >= target.
func indexEntryFor(index []byte, target int64) int {
	numEntries := len(index) / indexEntrySize
	left, right := 0, numEntries-1
	for left <= right {
		mid := (left + right) / 2
		offset := int64(serde.Encoding.Uint64(index[mid*indexEntrySize:]))
		if offset == target {
			return mid
		} else if offset > target {
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	return left
}

// Close flushes and closes every open partition file, continuing past
// a failed partition so one bad file doesn't strand the rest open. Any
// failures are returned together rather than just the first.
func (b *FileBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result *multierror.Error
	for key, p := range b.partitions {
		p.Lock()
		if err := p.logFile.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bus: syncing %v: %w", key, err))
		}
		if err := p.logFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bus: closing log file for %v: %w", key, err))
		}
		if err := p.indexFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bus: closing index file for %v: %w", key, err))
		}
		p.Unlock()
	}
	return result.ErrorOrNil()
}

var _ Bus = (*FileBus)(nil)
