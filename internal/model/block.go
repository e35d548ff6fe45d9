package model

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Block is a header plus its ordered transactions.
type Block struct {
	Header       Header
	Transactions []*Transaction
}

// Hash returns the block's header hash.
func (b *Block) Hash() chainhash.Hash {
	return b.Header.Hash()
}

// FromWireBlock wraps a deserialized wire block into the domain type.
func FromWireBlock(msg *wire.MsgBlock) *Block {
	txs := make([]*Transaction, 0, len(msg.Transactions))
	for _, tx := range msg.Transactions {
		txs = append(txs, &Transaction{MsgTx: tx})
	}
	return &Block{
		Header:       Header{BlockHeader: msg.Header},
		Transactions: txs,
	}
}

// DecodeBlock deserializes a raw block into the domain type.
func DecodeBlock(raw []byte) (*Block, error) {
	block, err := btcutil.NewBlockFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("deserialize block: %w", err)
	}
	return FromWireBlock(block.MsgBlock()), nil
}
