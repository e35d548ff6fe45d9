package badgerdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

// Key layout: 'p'+scriptHash+link+index+flag → paymentRecord. The composite
// key keeps exactly one row per (script, transaction, io-index, side).
var paymentPrefix = []byte("p")

// Addresses is the badger-backed payment-index leaf store.
type Addresses struct {
	db     *db
	logger *zap.Logger
}

// NewAddresses places the address database under directory/addresses.
func NewAddresses(directory string, logger *zap.Logger) *Addresses {
	logger = logger.Named("addresses")
	return &Addresses{
		db:     newDB(filepath.Join(directory, "addresses"), logger),
		logger: logger,
	}
}

func (a *Addresses) Create(ctx context.Context) error { return a.db.create(ctx) }
func (a *Addresses) Open(ctx context.Context) error   { return a.db.open(ctx) }
func (a *Addresses) Close() error                     { return a.db.close() }
func (a *Addresses) Flush() error                     { return a.db.flush() }
func (a *Addresses) Commit() error                    { return a.db.commit() }

func paymentKey(scriptHash [32]byte, record model.PaymentRecord) []byte {
	key := make([]byte, 0, len(paymentPrefix)+32+8+4+1)
	key = append(key, paymentPrefix...)
	key = append(key, scriptHash[:]...)
	key = append(key, encodeUint64(record.Link)...)
	key = binary.BigEndian.AppendUint32(key, record.Index)
	if record.Output {
		return append(key, 1)
	}
	return append(key, 0)
}

// Index expands the transaction into payment records: one per output, and
// one per input with a resolvable prevout script.
func (a *Addresses) Index(ctx context.Context, tx *model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	link := tx.Metadata.Link
	if link == 0 {
		return fmt.Errorf("transaction %s link not populated", tx.Hash())
	}

	for i, out := range tx.MsgTx.TxOut {
		record := model.PaymentRecord{
			Link:   link,
			Index:  uint32(i),
			Value:  uint64(out.Value),
			Output: true,
		}
		if err := a.Store(ctx, model.ScriptHash(out.PkScript), record); err != nil {
			return err
		}
	}

	if tx.IsCoinbase() {
		return nil
	}
	for i, in := range tx.MsgTx.TxIn {
		if i >= len(tx.PrevOuts) || tx.PrevOuts[i] == nil {
			continue
		}
		record := model.PaymentRecord{
			Link:   link,
			Index:  uint32(i),
			Value:  model.OutpointChecksum(in.PreviousOutPoint),
			Output: false,
		}
		if err := a.Store(ctx, model.ScriptHash(tx.PrevOuts[i].Script), record); err != nil {
			return err
		}
	}
	return nil
}

// Store records a single payment row.
func (a *Addresses) Store(ctx context.Context, scriptHash [32]byte, record model.PaymentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeRecord(&paymentRecord{
		Link:   record.Link,
		Index:  record.Index,
		Value:  record.Value,
		Output: record.Output,
	})
	if err != nil {
		return err
	}
	a.db.stagePut(paymentKey(scriptHash, record), raw)
	return nil
}

// Rows reads every payment record for a script hash, staged and committed.
func (a *Addresses) Rows(ctx context.Context, scriptHash [32]byte) ([]model.PaymentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := make([]byte, 0, len(paymentPrefix)+32)
	prefix = append(prefix, paymentPrefix...)
	prefix = append(prefix, scriptHash[:]...)

	values, err := a.db.scan(prefix)
	if err != nil {
		return nil, err
	}
	rows := make([]model.PaymentRecord, 0, len(values))
	for _, raw := range values {
		var rec paymentRecord
		if err := decodeRecord(raw, &rec); err != nil {
			return nil, err
		}
		rows = append(rows, model.PaymentRecord{
			Link:   rec.Link,
			Index:  rec.Index,
			Value:  rec.Value,
			Output: rec.Output,
		})
	}
	return rows, nil
}
