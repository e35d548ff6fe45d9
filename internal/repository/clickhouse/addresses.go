package clickhouse

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
	"github.com/goodnatureofminers/chainstore7000/pkg/batcher"
)

const (
	insertFlushSize     = 1_000
	insertFlushInterval = time.Second
	insertFlushRPS      = 10
)

type paymentRow struct {
	ScriptHash string
	Link       uint64
	Index      uint32
	Value      uint64
	Output     bool
}

// AddressStore buffers payment rows and writes them to the payment_index
// table on commit, by size, or on an interval.
type AddressStore struct {
	conn    clickhouse.Conn
	metrics Metrics
	logger  *zap.Logger
	batch   *batcher.Batcher[paymentRow]
	started bool
}

// NewAddressStore connects to ClickHouse. The payment_index schema is
// managed by the migrations command, not here.
func NewAddressStore(dsn string, metrics Metrics, logger *zap.Logger) (*AddressStore, error) {
	conn, err := openConn(dsn)
	if err != nil {
		return nil, err
	}

	s := &AddressStore{
		conn:    conn,
		metrics: metrics,
		logger:  logger.Named("addressStore"),
	}
	s.batch = batcher.New(s.logger, s.insertRows, insertFlushSize, insertFlushInterval, insertFlushRPS)
	return s, nil
}

// Create verifies connectivity and starts the background flushing loop.
func (s *AddressStore) Create(ctx context.Context) error {
	return s.Open(ctx)
}

// Open verifies connectivity and starts the background flushing loop.
func (s *AddressStore) Open(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}
	if !s.started {
		s.batch.Start(context.Background())
		s.started = true
	}
	return nil
}

// Close drains the buffer and closes the connection.
func (s *AddressStore) Close() error {
	if s.started {
		s.batch.Stop()
		s.started = false
	}
	return s.conn.Close()
}

// Flush drains any buffered rows. Durability past the insert is the
// server's concern.
func (s *AddressStore) Flush() error {
	return s.batch.Flush(context.Background())
}

// Commit drains any buffered rows.
func (s *AddressStore) Commit() error {
	return s.batch.Flush(context.Background())
}

// Index expands the transaction into payment rows: one per output, and one
// per input with a resolvable prevout script.
func (s *AddressStore) Index(ctx context.Context, tx *model.Transaction) error {
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
		if err := s.Store(ctx, model.ScriptHash(out.PkScript), record); err != nil {
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
		if err := s.Store(ctx, model.ScriptHash(tx.PrevOuts[i].Script), record); err != nil {
			return err
		}
	}
	return nil
}

// Store buffers a single payment row.
func (s *AddressStore) Store(ctx context.Context, scriptHash [32]byte, record model.PaymentRecord) error {
	return s.batch.Add(ctx, paymentRow{
		ScriptHash: hex.EncodeToString(scriptHash[:]),
		Link:       record.Link,
		Index:      record.Index,
		Value:      record.Value,
		Output:     record.Output,
	})
}

// Rows reads every payment record for a script hash.
func (s *AddressStore) Rows(ctx context.Context, scriptHash [32]byte) ([]model.PaymentRecord, error) {
	start := time.Now()
	var err error
	defer func() {
		s.metrics.Observe("select_payment_rows", err, start)
	}()

	rows, err := s.conn.Query(ctx, `
SELECT tx_link, io_index, value, is_output
FROM payment_index
WHERE script_hash = ?
ORDER BY tx_link, io_index, is_output`, hex.EncodeToString(scriptHash[:]))
	if err != nil {
		return nil, fmt.Errorf("select payment rows: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []model.PaymentRecord
	for rows.Next() {
		var (
			link   uint64
			index  uint32
			value  uint64
			output uint8
		)
		if err = rows.Scan(&link, &index, &value, &output); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		out = append(out, model.PaymentRecord{
			Link:   link,
			Index:  index,
			Value:  value,
			Output: output != 0,
		})
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AddressStore) insertRows(ctx context.Context, rows []paymentRow) error {
	start := time.Now()
	var err error
	defer func() {
		s.metrics.Observe("insert_payment_rows", err, start)
	}()

	if len(rows) == 0 {
		return nil
	}

	const query = `
INSERT INTO payment_index (
	script_hash,
	tx_link,
	io_index,
	value,
	is_output
) VALUES`

	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare payment batch: %w", err)
	}

	for _, row := range rows {
		output := uint8(0)
		if row.Output {
			output = 1
		}
		if err = batch.Append(
			row.ScriptHash,
			row.Link,
			row.Index,
			row.Value,
			output,
		); err != nil {
			return fmt.Errorf("append payment row: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert payment rows: %w", err)
	}
	return nil
}
