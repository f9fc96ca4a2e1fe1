package codec

import (
	"testing"

	"github.com/streamkop/coordinator/model"
)

func TestTxnKeyRoundTrip(t *testing.T) {
	key := EncodeTxnKey("my-txn")
	got, err := DecodeTxnKey(key)
	if err != nil {
		t.Fatalf("DecodeTxnKey: %v", err)
	}
	if got != "my-txn" {
		t.Fatalf("expected my-txn, got %v", got)
	}
}

func TestDecodeTxnKeyRejectsUnknownVersion(t *testing.T) {
	key := EncodeTxnKey("my-txn")
	key[1] = byte(TxnKeyVersion + 1)
	if _, err := DecodeTxnKey(key); err == nil {
		t.Fatal("expected an error decoding an unknown key version")
	}
}

func TestTxnValueRoundTrip(t *testing.T) {
	entry := model.NewTxnEntry("my-txn", 30000, 1000)
	entry.ProducerID = 7
	entry.ProducerEpoch = 2
	entry.State = model.TxnOngoing
	entry.TopicPartitions[model.TopicPartition{Topic: "orders", Partition: 0}] = struct{}{}
	entry.TopicPartitions[model.TopicPartition{Topic: "orders", Partition: 1}] = struct{}{}
	entry.LastUpdateTimestampMs = 2000

	decoded, err := DecodeTxnValue("my-txn", EncodeTxnValue(entry))
	if err != nil {
		t.Fatalf("DecodeTxnValue: %v", err)
	}

	if decoded.ProducerID != 7 || decoded.ProducerEpoch != 2 || decoded.State != model.TxnOngoing {
		t.Fatalf("identity/state mismatch: %+v", decoded)
	}
	if decoded.TimeoutMs != 30000 || decoded.LastUpdateTimestampMs != 2000 || decoded.StartTimestampMs != 1000 {
		t.Fatalf("timing fields mismatch: %+v", decoded)
	}
	if len(decoded.TopicPartitions) != 2 {
		t.Fatalf("expected 2 partitions, got %v", decoded.TopicPartitions)
	}
	if _, ok := decoded.TopicPartitions[model.TopicPartition{Topic: "orders", Partition: 0}]; !ok {
		t.Fatal("expected orders-0 in decoded partitions")
	}
}

func TestTxnValueRoundTripWithNoPartitions(t *testing.T) {
	entry := model.NewTxnEntry("empty-txn", 30000, 1000)
	decoded, err := DecodeTxnValue("empty-txn", EncodeTxnValue(entry))
	if err != nil {
		t.Fatalf("DecodeTxnValue: %v", err)
	}
	if len(decoded.TopicPartitions) != 0 {
		t.Fatalf("expected no partitions, got %v", decoded.TopicPartitions)
	}
	if decoded.ProducerID != -1 || decoded.ProducerEpoch != -1 {
		t.Fatalf("expected default empty producer identity, got %+v", decoded)
	}
}
