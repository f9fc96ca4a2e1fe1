package bus

import (
	"fmt"
	"hash/crc32"

	"github.com/streamkop/coordinator/compress"
	"github.com/streamkop/coordinator/logging"
	"github.com/streamkop/coordinator/serde"
)

// magic is the only record batch version this bus speaks.
const magic = 2

// encodeBatch serializes a single-record batch, optionally compressing
// the record payload per the codec selected by attributes' low 3 bits.
func encodeBatch(key, value []byte, attributes uint16, timestamp uint64) []byte {
	rec := serde.NewEncoder()
	rec.PutInt8(0)               // record attributes, unused
	rec.PutVarint(0)             // timestampDelta
	rec.PutVarint(0)             // offsetDelta
	rec.PutNullableBytes(key)    // key
	rec.PutNullableBytes(value)  // value
	rec.PutVarint(0)             // header count
	recordBytes := rec.Bytes()

	if compressor := compress.GetCompressor(attributes); compressor != nil {
		compressed, err := compressor.Compress(recordBytes)
		if err != nil {
			logging.Error("encodeBatch: compression failed, storing uncompressed: %v", err)
		} else {
			recordBytes = compressed
		}
	}

	body := serde.NewEncoder()
	body.PutInt16(attributes)
	body.PutInt32(0) // lastOffsetDelta: single record
	body.PutInt64(timestamp)
	body.PutInt64(timestamp)
	body.PutInt64(^uint64(0))   // producerID: -1, unused by this bus
	body.PutInt16(uint16(0xFFFF)) // producerEpoch: -1
	body.PutInt32(^uint32(0))   // baseSequence: -1
	body.PutInt32(1)            // numRecords
	body.PutRawBytes(recordBytes)

	checksummed := body.Bytes()
	crc := crc32.Checksum(checksummed, crc32.MakeTable(crc32.Castagnoli))

	out := serde.NewEncoder()
	out.PutInt64(0) // baseOffset: assigned by the partition on append
	out.PutInt32(0) // partitionLeaderEpoch: unused by this bus
	out.PutInt8(magic)
	out.PutInt32(crc)
	out.PutRawBytes(checksummed)
	return out.Bytes()
}

// decodeBatch parses a batch envelope back into a Record.
func decodeBatch(b []byte, offset int64) (Record, error) {
	d := serde.NewDecoder(b)
	d.UInt64() // baseOffset, overwritten by the caller with the index-assigned offset
	d.UInt32() // partitionLeaderEpoch
	m := d.UInt8()
	if m != magic {
		return Record{}, fmt.Errorf("bus: unsupported record batch magic %d", m)
	}
	d.UInt32() // crc, not re-verified on read: the file is trusted local storage
	attributes := d.UInt16()
	d.UInt32() // lastOffsetDelta
	baseTimestamp := d.UInt64()
	d.UInt64() // maxTimestamp
	d.UInt64() // producerID
	d.UInt16() // producerEpoch
	d.UInt32() // baseSequence
	d.UInt32() // numRecords

	recordBytes := d.GetRemainingBytes()
	if compressor := compress.GetCompressor(attributes); compressor != nil {
		decompressed, err := compressor.Decompress(recordBytes)
		if err != nil {
			return Record{}, fmt.Errorf("bus: decompressing record: %w", err)
		}
		recordBytes = decompressed
	}

	rd := serde.NewDecoder(recordBytes)
	rd.UInt8()    // record attributes
	rd.Varint()   // timestampDelta
	rd.Varint()   // offsetDelta
	key := rd.Bytes()
	value := rd.Bytes()
	rd.Varint() // header count

	return Record{
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: int64(baseTimestamp),
	}, nil
}
