package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks.go -package=$GOPACKAGE

// Checkpoint names a (height, hash) pair, the last common ancestor between an
// old and a new chain during reorganization.
type Checkpoint struct {
	Height uint64
	Hash   chainhash.Hash
}

// BlockResult is a read of one header record: the wire header, its recorded
// state, and the link array binding it to its transactions.
type BlockResult struct {
	Hash           chainhash.Hash
	Header         wire.BlockHeader
	Height         uint64
	MedianTimePast uint32
	Validated      bool
	Error          model.ErrorCode
	TxLinks        []uint64
}

// TxResult is a read of one transaction record.
type TxResult struct {
	Hash chainhash.Hash
	Link uint64
	Tx   *wire.MsgTx

	// Confirmation tuple, meaningful only when Confirmed is set.
	Confirmed      bool
	Height         uint64
	MedianTimePast uint32
	Position       uint32

	// Candidate marks membership in a candidate-but-not-confirmed block.
	Candidate bool

	// Spenders holds per-output spender heights, UnspentHeight when unspent.
	Spenders []uint64
	// CandidateSpends marks outputs claimed by candidate transactions.
	CandidateSpends []bool
}

// UnspentHeight is the spender-height of an output no confirmed transaction
// has claimed.
const UnspentHeight = ^uint64(0)

// BlockStore records headers, the candidate and confirmed height indices,
// and per-header transaction-link arrays.
type BlockStore interface {
	Create(ctx context.Context) error
	Open(ctx context.Context) error
	Close() error
	Flush() error
	Commit() error

	// Store records a header at the given height with its median time past
	// and marks the header's Exists metadata.
	Store(ctx context.Context, header *model.Header, height uint64, medianTimePast uint32) error
	// Update binds the header to its transactions' links.
	Update(ctx context.Context, block *model.Block) error
	// Validate records a validation verdict against the header.
	Validate(ctx context.Context, hash *chainhash.Hash, code model.ErrorCode) error
	// Index appends the hash to the candidate or confirmed index at height.
	Index(ctx context.Context, hash *chainhash.Hash, height uint64, candidate bool) error
	// Unindex removes the hash from the top of the candidate or confirmed index.
	Unindex(ctx context.Context, hash *chainhash.Hash, height uint64, candidate bool) error

	Get(ctx context.Context, hash *chainhash.Hash) (*BlockResult, error)
	GetByHeight(ctx context.Context, height uint64, candidate bool) (*BlockResult, error)
	// Top returns the top height of the chosen index; ok is false when the
	// index is empty.
	Top(ctx context.Context, candidate bool) (height uint64, ok bool, err error)
}

// TransactionStore records transactions by hash with per-transaction
// confirmation state and per-output spender links.
type TransactionStore interface {
	Create(ctx context.Context) error
	Open(ctx context.Context) error
	Close() error
	Flush() error
	Commit() error

	// Store records the transaction if missing and populates its link
	// metadata either way.
	Store(ctx context.Context, tx *model.Transaction, forks uint32) error
	// StoreAll stores any missing transactions and populates link metadata
	// on every element.
	StoreAll(ctx context.Context, txs []*model.Transaction) error

	Get(ctx context.Context, link uint64) (*TxResult, error)
	GetByHash(ctx context.Context, hash *chainhash.Hash) (*TxResult, error)

	// Confirm sets the confirmation tuple and spends the prevouts claimed by
	// the transaction's inputs.
	Confirm(ctx context.Context, link uint64, height uint64, medianTimePast uint32, position uint32) error
	// ConfirmAll confirms the transactions in order, assigning positions.
	ConfirmAll(ctx context.Context, txs []*model.Transaction, height uint64, medianTimePast uint32) error
	// Unconfirm clears the confirmation tuple and unspends claimed prevouts.
	Unconfirm(ctx context.Context, link uint64) error

	// Candidate marks the transaction and the outputs it spends as candidate.
	Candidate(ctx context.Context, link uint64) error
	Uncandidate(ctx context.Context, link uint64) error
}

// AddressStore is the optional inverted payment index from script hash to
// payment records. It is best-effort secondary state: it may trail the
// confirmed indices after a mid-write failure.
type AddressStore interface {
	Create(ctx context.Context) error
	Open(ctx context.Context) error
	Close() error
	Flush() error
	Commit() error

	// Index expands the transaction into payment records, one per output and
	// one per input with a resolvable prevout script.
	Index(ctx context.Context, tx *model.Transaction) error
	// Store records a single payment row.
	Store(ctx context.Context, scriptHash [32]byte, record model.PaymentRecord) error
}
