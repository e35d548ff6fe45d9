package model

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PrevOut caches the script and value of a spent previous output. Inputs
// whose prevout could not be resolved carry a nil entry.
type PrevOut struct {
	Script []byte
	Value  uint64
}

// TxMetadata carries store-side state alongside the wire transaction.
type TxMetadata struct {
	// Link identifies the transaction's record in the transaction store.
	// Zero means the link has not been populated.
	Link uint64
	// Existed is set when a store attempt found the hash already present.
	Existed bool
}

// Transaction is a wire transaction plus store metadata and, when available,
// the cached prevouts of its inputs (parallel to MsgTx.TxIn).
type Transaction struct {
	MsgTx *wire.MsgTx

	Metadata TxMetadata
	PrevOuts []*PrevOut
}

// Hash returns the transaction hash.
func (t *Transaction) Hash() chainhash.Hash {
	return t.MsgTx.TxHash()
}

// IsCoinbase reports whether the transaction's single input spends the null
// outpoint.
func (t *Transaction) IsCoinbase() bool {
	if len(t.MsgTx.TxIn) != 1 {
		return false
	}
	prev := t.MsgTx.TxIn[0].PreviousOutPoint
	return prev.Index == wire.MaxPrevOutIndex && prev.Hash == chainhash.Hash{}
}

// ScriptHash keys the payment index: the sha256 of a payment script.
func ScriptHash(script []byte) [32]byte {
	return sha256.Sum256(script)
}

// OutpointChecksum folds an outpoint into a compact identifier, recorded as
// the value of spend-side payment records.
func OutpointChecksum(op wire.OutPoint) uint64 {
	return binary.LittleEndian.Uint64(op.Hash[:8]) ^ uint64(op.Index)
}
