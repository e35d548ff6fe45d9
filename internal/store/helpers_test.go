package store

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
	"github.com/goodnatureofminers/chainstore7000/internal/repository/badgerdb"
)

func testLeaves(t *testing.T, cfg Config) Leaves {
	t.Helper()

	logger := zap.NewNop()
	transactions, err := badgerdb.NewTransactions(cfg.Directory, cfg.CacheCapacity, logger)
	require.NoError(t, err)

	leaves := Leaves{
		Blocks:       badgerdb.NewBlocks(cfg.Directory, logger),
		Transactions: transactions,
	}
	if cfg.IndexAddresses {
		leaves.Addresses = badgerdb.NewAddresses(cfg.Directory, logger)
	}
	return leaves
}

// newTestStore creates a store on a fresh directory with the genesis block
// pushed.
func newTestStore(t *testing.T, cfg Config, genesis *model.Block) *Store {
	t.Helper()

	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	s, err := New(cfg, testLeaves(t, cfg), zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), genesis))
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
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

// testBlock builds a block with a tag-unique coinbase plus any extra
// transactions.
func testBlock(prev chainhash.Hash, tag uint32, extra ...*model.Transaction) *model.Block {
	txs := append([]*model.Transaction{testCoinbase(tag)}, extra...)
	return &model.Block{Header: *testHeader(prev, tag), Transactions: txs}
}

func testGenesis() *model.Block {
	return testBlock(chainhash.Hash{}, 0)
}

// extendChain pushes count blocks on top of the store's confirmed tip,
// returning them in ascending height order.
func extendChain(t *testing.T, s *Store, parent *model.Block, startHeight uint64, count int) []*model.Block {
	t.Helper()

	ctx := context.Background()
	blocks := make([]*model.Block, 0, count)
	prev := parent.Hash()
	for i := 0; i < count; i++ {
		height := startHeight + uint64(i)
		block := testBlock(prev, uint32(height))
		require.NoError(t, s.Push(ctx, block, height, uint32(1600+height)))
		blocks = append(blocks, block)
		prev = block.Hash()
	}
	return blocks
}
