// Package clickhouse implements the address leaf-store contract over a
// ClickHouse payment_index table. The index is best-effort secondary state:
// rows are buffered and flushed in rate-limited batches.
package clickhouse

import (
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type (
	// Metrics observes repository operations.
	Metrics interface {
		Observe(operation string, err error, started time.Time)
	}
)

func openConn(dsn string) (clickhouse.Conn, error) {
	if dsn == "" {
		return nil, errors.New("clickhouse dsn is required")
	}

	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	return conn, nil
}
