package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

// Key layout: 't'+link → txRecord, 'x'+hash → link, "seq" → last link.
var (
	txPrefix     = []byte("t")
	txHashPrefix = []byte("x")
	txSeqKey     = []byte("seq")
)

const defaultTxCacheCapacity = 10_000

// Transactions is the badger-backed transaction leaf store with an LRU read
// cache over decoded records.
type Transactions struct {
	db     *db
	cache  *lru.Cache
	logger *zap.Logger
}

// NewTransactions places the transaction database under
// directory/transactions. cacheCapacity bounds the read cache; zero selects
// the default.
func NewTransactions(directory string, cacheCapacity uint32, logger *zap.Logger) (*Transactions, error) {
	if cacheCapacity == 0 {
		cacheCapacity = defaultTxCacheCapacity
	}
	cache, err := lru.New(int(cacheCapacity))
	if err != nil {
		return nil, fmt.Errorf("transaction cache: %w", err)
	}
	logger = logger.Named("transactions")
	return &Transactions{
		db:     newDB(filepath.Join(directory, "transactions"), logger),
		cache:  cache,
		logger: logger,
	}, nil
}

func (t *Transactions) Create(ctx context.Context) error { return t.db.create(ctx) }
func (t *Transactions) Open(ctx context.Context) error   { return t.db.open(ctx) }
func (t *Transactions) Flush() error                     { return t.db.flush() }
func (t *Transactions) Commit() error                    { return t.db.commit() }

func (t *Transactions) Close() error {
	t.cache.Purge()
	return t.db.close()
}

func txKey(link uint64) []byte {
	key := make([]byte, 0, len(txPrefix)+8)
	key = append(key, txPrefix...)
	return append(key, encodeUint64(link)...)
}

func txHashKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 0, len(txHashPrefix)+len(hash))
	key = append(key, txHashPrefix...)
	return append(key, hash[:]...)
}

func (t *Transactions) linkByHash(hash *chainhash.Hash) (uint64, error) {
	raw, err := t.db.get(txHashKey(hash))
	if err != nil {
		return 0, err
	}
	return decodeUint64(raw)
}

// loadRecord returns a private copy; callers mutate and re-store freely.
func (t *Transactions) loadRecord(link uint64) (*txRecord, error) {
	if cached, ok := t.cache.Get(link); ok {
		return cached.(*txRecord).clone(), nil
	}
	raw, err := t.db.get(txKey(link))
	if err != nil {
		return nil, err
	}
	var rec txRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *Transactions) storeRecord(link uint64, rec *txRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	t.cache.Remove(link)
	t.db.stagePut(txKey(link), raw)
	return nil
}

func (t *Transactions) nextLink() (uint64, error) {
	last := uint64(0)
	raw, err := t.db.get(txSeqKey)
	switch err {
	case nil:
		if last, err = decodeUint64(raw); err != nil {
			return 0, err
		}
	case chain.ErrNotFound:
	default:
		return 0, err
	}

	// Links start at one; zero marks unpopulated link metadata.
	link := last + 1
	t.db.stagePut(txSeqKey, encodeUint64(link))
	return link, nil
}

// Store records the transaction if its hash is missing and populates the
// link metadata either way.
func (t *Transactions) Store(ctx context.Context, tx *model.Transaction, forks uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash := tx.Hash()
	link, err := t.linkByHash(&hash)
	switch err {
	case nil:
		tx.Metadata.Link = link
		tx.Metadata.Existed = true
		return nil
	case chain.ErrNotFound:
	default:
		return err
	}

	if link, err = t.nextLink(); err != nil {
		return err
	}
	raw, err := serializeTx(tx.MsgTx)
	if err != nil {
		return err
	}
	rec := &txRecord{
		RawTx:           raw,
		Forks:           forks,
		Spenders:        make([]uint64, len(tx.MsgTx.TxOut)),
		CandidateSpends: make([]bool, len(tx.MsgTx.TxOut)),
	}
	for i := range rec.Spenders {
		rec.Spenders[i] = chain.UnspentHeight
	}

	if err := t.storeRecord(link, rec); err != nil {
		return err
	}
	t.db.stagePut(txHashKey(&hash), encodeUint64(link))

	tx.Metadata.Link = link
	tx.Metadata.Existed = false
	return nil
}

// StoreAll stores any missing transactions and populates link metadata on
// every element.
func (t *Transactions) StoreAll(ctx context.Context, txs []*model.Transaction) error {
	for _, tx := range txs {
		if err := t.Store(ctx, tx, 0); err != nil {
			return err
		}
	}
	return nil
}

// Get reads the transaction record by link.
func (t *Transactions) Get(ctx context.Context, link uint64) (*chain.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := t.loadRecord(link)
	if err != nil {
		return nil, err
	}
	t.cache.Add(link, rec)

	msg, err := deserializeTx(rec.RawTx)
	if err != nil {
		return nil, err
	}
	spenders := make([]uint64, len(rec.Spenders))
	copy(spenders, rec.Spenders)
	candidateSpends := make([]bool, len(rec.CandidateSpends))
	copy(candidateSpends, rec.CandidateSpends)

	return &chain.TxResult{
		Hash:            msg.TxHash(),
		Link:            link,
		Tx:              msg,
		Confirmed:       rec.Confirmed,
		Height:          rec.Height,
		MedianTimePast:  rec.MedianTimePast,
		Position:        rec.Position,
		Candidate:       rec.Candidate,
		Spenders:        spenders,
		CandidateSpends: candidateSpends,
	}, nil
}

// GetByHash reads the transaction record by hash.
func (t *Transactions) GetByHash(ctx context.Context, hash *chainhash.Hash) (*chain.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	link, err := t.linkByHash(hash)
	if err != nil {
		return nil, err
	}
	return t.Get(ctx, link)
}

// forEachPrevout visits the record of every resolvable prevout the
// transaction spends. Coinbase transactions and unknown prevouts are skipped.
func (t *Transactions) forEachPrevout(rec *txRecord, visit func(link uint64, rec *txRecord, index uint32)) error {
	msg, err := deserializeTx(rec.RawTx)
	if err != nil {
		return err
	}
	tx := model.Transaction{MsgTx: msg}
	if tx.IsCoinbase() {
		return nil
	}

	for _, in := range msg.TxIn {
		prev := in.PreviousOutPoint
		link, err := t.linkByHash(&prev.Hash)
		if err == chain.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		prevRec, err := t.loadRecord(link)
		if err != nil {
			return err
		}
		if int(prev.Index) >= len(prevRec.Spenders) {
			return fmt.Errorf("prevout index %d out of range for %s", prev.Index, prev.Hash)
		}
		visit(link, prevRec, prev.Index)
		if err := t.storeRecord(link, prevRec); err != nil {
			return err
		}
	}
	return nil
}

// Confirm sets the confirmation tuple and records this height as the spender
// of every claimed prevout.
func (t *Transactions) Confirm(ctx context.Context, link uint64, height uint64, medianTimePast uint32, position uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := t.loadRecord(link)
	if err != nil {
		return err
	}
	rec.Confirmed = true
	rec.Height = height
	rec.MedianTimePast = medianTimePast
	rec.Position = position

	if err := t.forEachPrevout(rec, func(_ uint64, prevRec *txRecord, index uint32) {
		prevRec.Spenders[index] = height
	}); err != nil {
		return err
	}
	return t.storeRecord(link, rec)
}

// ConfirmAll confirms the transactions in order, assigning block positions.
func (t *Transactions) ConfirmAll(ctx context.Context, txs []*model.Transaction, height uint64, medianTimePast uint32) error {
	for position, tx := range txs {
		if err := t.Confirm(ctx, tx.Metadata.Link, height, medianTimePast, uint32(position)); err != nil {
			return err
		}
	}
	return nil
}

// Unconfirm clears the confirmation tuple and unspends claimed prevouts.
func (t *Transactions) Unconfirm(ctx context.Context, link uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := t.loadRecord(link)
	if err != nil {
		return err
	}
	rec.Confirmed = false
	rec.Height = 0
	rec.MedianTimePast = 0
	rec.Position = 0

	if err := t.forEachPrevout(rec, func(_ uint64, prevRec *txRecord, index uint32) {
		prevRec.Spenders[index] = chain.UnspentHeight
	}); err != nil {
		return err
	}
	return t.storeRecord(link, rec)
}

// Candidate marks the transaction and the outputs it spends as candidate.
func (t *Transactions) Candidate(ctx context.Context, link uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := t.loadRecord(link)
	if err != nil {
		return err
	}
	rec.Candidate = true

	if err := t.forEachPrevout(rec, func(_ uint64, prevRec *txRecord, index uint32) {
		prevRec.CandidateSpends[index] = true
	}); err != nil {
		return err
	}
	return t.storeRecord(link, rec)
}

// Uncandidate reverses Candidate.
func (t *Transactions) Uncandidate(ctx context.Context, link uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := t.loadRecord(link)
	if err != nil {
		return err
	}
	rec.Candidate = false

	if err := t.forEachPrevout(rec, func(_ uint64, prevRec *txRecord, index uint32) {
		prevRec.CandidateSpends[index] = false
	}); err != nil {
		return err
	}
	return t.storeRecord(link, rec)
}
