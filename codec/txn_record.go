package codec

import (
	"fmt"

	"github.com/streamkop/coordinator/model"
	"github.com/streamkop/coordinator/serde"
)

// TxnKeyVersion is the only transaction log key version this codec
// writes or accepts.
const TxnKeyVersion int16 = 0

// TxnValueVersion is the only transaction log value version this
// codec writes or accepts.
const TxnValueVersion int16 = 1

// EncodeTxnKey builds the key bytes for a transaction state record.
func EncodeTxnKey(transactionalID string) []byte {
	e := serde.NewEncoder()
	e.PutInt16(uint16(TxnKeyVersion))
	e.PutString(transactionalID)
	return e.Bytes()
}

// DecodeTxnKey parses a transaction state record key, returning the
// transactional id.
func DecodeTxnKey(key []byte) (transactionalID string, err error) {
	d := serde.NewDecoder(key)
	version := int16(d.UInt16())
	if version != TxnKeyVersion {
		return "", fmt.Errorf("codec: unexpected transaction key version %d", version)
	}
	return d.String(), nil
}

// EncodeTxnValue serializes a transaction entry snapshot.
func EncodeTxnValue(t *model.TxnEntry) []byte {
	e := serde.NewEncoder()
	e.PutInt16(uint16(TxnValueVersion))
	e.PutInt64(uint64(t.ProducerID))
	e.PutInt16(uint16(t.ProducerEpoch))
	e.PutInt32(uint32(t.TimeoutMs))
	e.PutInt8(uint8(t.State))

	e.PutInt32(uint32(len(t.TopicPartitions)))
	for tp := range t.TopicPartitions {
		e.PutString(tp.Topic)
		e.PutInt32(uint32(tp.Partition))
	}

	e.PutInt64(uint64(t.LastUpdateTimestampMs))
	e.PutInt64(uint64(t.StartTimestampMs))
	e.EndStruct()
	return e.Bytes()
}

// DecodeTxnValue parses a transaction state record value into a fresh
// transaction entry keyed by transactionalID.
func DecodeTxnValue(transactionalID string, value []byte) (*model.TxnEntry, error) {
	d := serde.NewDecoder(value)
	version := int16(d.UInt16())
	if version != TxnValueVersion {
		return nil, fmt.Errorf("codec: unexpected transaction value version %d", version)
	}

	t := &model.TxnEntry{
		TransactionalID: transactionalID,
		TopicPartitions: make(map[model.TopicPartition]struct{}),
	}
	t.ProducerID = int64(d.UInt64())
	t.ProducerEpoch = int16(d.UInt16())
	t.TimeoutMs = int32(d.UInt32())
	t.State = model.TxnState(d.UInt8())

	numPartitions := d.UInt32()
	for i := uint32(0); i < numPartitions; i++ {
		tp := model.TopicPartition{Topic: d.String(), Partition: int32(d.UInt32())}
		t.TopicPartitions[tp] = struct{}{}
	}

	t.LastUpdateTimestampMs = int64(d.UInt64())
	t.StartTimestampMs = int64(d.UInt64())
	return t, nil
}
