package badgerdb

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/vmihailenco/msgpack/v4"
)

// headerRecord is the stored form of one header: the raw 80 bytes plus the
// recorded lifecycle state and the transaction-link array.
type headerRecord struct {
	RawHeader      []byte
	Height         uint64
	MedianTimePast uint32
	Validated      bool
	Error          uint32
	TxLinks        []uint64
}

// txRecord is the stored form of one transaction: the canonical bytes, the
// confirmation tuple, and per-output spend state.
type txRecord struct {
	RawTx          []byte
	Forks          uint32
	Confirmed      bool
	Height         uint64
	MedianTimePast uint32
	Position       uint32
	Candidate      bool

	// Spenders holds the spender height of each output, UnspentHeight when
	// unspent. CandidateSpends marks claims by candidate transactions.
	Spenders        []uint64
	CandidateSpends []bool
}

func (r *txRecord) clone() *txRecord {
	out := *r
	out.Spenders = make([]uint64, len(r.Spenders))
	copy(out.Spenders, r.Spenders)
	out.CandidateSpends = make([]bool, len(r.CandidateSpends))
	copy(out.CandidateSpends, r.CandidateSpends)
	return &out
}

// paymentRecord is one stored payment-index row.
type paymentRecord struct {
	Link   uint64
	Index  uint32
	Value  uint64
	Output bool
}

func encodeRecord(v interface{}) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return raw, nil
}

func decodeRecord(raw []byte, v interface{}) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

func serializeHeader(header *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize header: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeHeader(raw []byte) (wire.BlockHeader, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return header, fmt.Errorf("deserialize header: %w", err)
	}
	return header, nil
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}
	return &tx, nil
}
