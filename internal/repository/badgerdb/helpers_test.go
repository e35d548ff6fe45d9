package badgerdb

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

func newTestBlocks(t *testing.T) *Blocks {
	t.Helper()

	b := NewBlocks(t.TempDir(), zap.NewNop())
	require.NoError(t, b.Create(context.Background()))
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}

func newTestTransactions(t *testing.T) *Transactions {
	t.Helper()

	txs, err := NewTransactions(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, txs.Create(context.Background()))
	t.Cleanup(func() {
		_ = txs.Close()
	})
	return txs
}

func newTestAddresses(t *testing.T) *Addresses {
	t.Helper()

	a := NewAddresses(t.TempDir(), zap.NewNop())
	require.NoError(t, a.Create(context.Background()))
	t.Cleanup(func() {
		_ = a.Close()
	})
	return a
}

func testHeader(prev chainhash.Hash, nonce uint32) *model.Header {
	return &model.Header{
		BlockHeader: wire.BlockHeader{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: chainhash.Hash{byte(nonce), byte(nonce >> 8)},
			Timestamp:  time.Unix(1231006505+int64(nonce)*600, 0),
			Bits:       0x1d00ffff,
			Nonce:      nonce,
		},
	}
}

func testCoinbase(tag uint32) *model.Transaction {
	msg := wire.NewMsgTx(wire.TxVersion)
	msg.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{byte(tag), byte(tag >> 8), byte(tag >> 16)},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	msg.AddTxOut(wire.NewTxOut(50_0000_0000, []byte{0x51}))
	return &model.Transaction{MsgTx: msg}
}

func testSpend(prev *model.Transaction, vout uint32, value int64) *model.Transaction {
	prevHash := prev.Hash()
	msg := wire.NewMsgTx(wire.TxVersion)
	msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: prevHash, Index: vout}, nil, nil))
	msg.AddTxOut(wire.NewTxOut(value, []byte{0x52}))
	return &model.Transaction{MsgTx: msg}
}
