package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/suite"
	tcClickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

const (
	clickhouseImage = "clickhouse/clickhouse-server:25.11"
)

type AddressStoreSuite struct {
	suite.Suite
	ctx        context.Context
	cancel     context.CancelFunc
	container  *tcClickhouse.ClickHouseContainer
	dsn        string
	store      *AddressStore
	metrics    *MockMetrics
	metricsCtl *gomock.Controller
	testCtx    context.Context
	testCancel context.CancelFunc
}

func TestAddressStoreSuite(t *testing.T) {
	suite.Run(t, new(AddressStoreSuite))
}

func (s *AddressStoreSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	container, err := tcClickhouse.Run(s.ctx,
		clickhouseImage,
		tcClickhouse.WithUsername("default"),
		tcClickhouse.WithDatabase("default"),
	)
	s.Require().NoError(err)

	s.container = container

	dsn, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)
	s.dsn = dsn
}

func (s *AddressStoreSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *AddressStoreSuite) SetupTest() {
	s.testCtx, s.testCancel = context.WithTimeout(context.Background(), time.Minute)
	s.metricsCtl = gomock.NewController(s.T())
	s.metrics = NewMockMetrics(s.metricsCtl)

	s.Require().NoError(applyMigrationsUp(s.dsn))

	store, err := NewAddressStore(s.dsn, s.metrics, zap.NewNop())
	s.Require().NoError(err)
	s.Require().NoError(store.Open(s.testCtx))
	s.store = store
}

func (s *AddressStoreSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
	if s.testCancel != nil {
		s.testCancel()
	}
	s.Require().NoError(applyMigrationsDown(s.dsn))
	if s.metricsCtl != nil {
		s.metricsCtl.Finish()
	}
}

func (s *AddressStoreSuite) TestIndexWritesOutputRows() {
	tx := newIndexedTx(1, 2)
	tx.Metadata.Link = 9

	s.metrics.EXPECT().Observe("insert_payment_rows", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("select_payment_rows", gomock.Nil(), gomock.Any()).AnyTimes()

	s.Require().NoError(s.store.Index(s.testCtx, tx))
	s.Require().NoError(s.store.Commit())

	rows, err := s.store.Rows(s.testCtx, model.ScriptHash(tx.MsgTx.TxOut[0].PkScript))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(uint64(9), rows[0].Link)
	s.Equal(uint32(0), rows[0].Index)
	s.Equal(uint64(tx.MsgTx.TxOut[0].Value), rows[0].Value)
	s.True(rows[0].Output)
}

func (s *AddressStoreSuite) TestIndexWritesSpendRows() {
	prevHash := chainhash.Hash{0x11}
	prevScript := []byte{0x76, 0xa9, 0x14, 0xaa}

	tx := newIndexedTx(1, 1)
	tx.MsgTx.TxIn[0].PreviousOutPoint = wire.OutPoint{Hash: prevHash, Index: 0}
	tx.PrevOuts = []*model.PrevOut{{Script: prevScript, Value: 5_000}}
	tx.Metadata.Link = 3

	s.metrics.EXPECT().Observe("insert_payment_rows", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("select_payment_rows", gomock.Nil(), gomock.Any()).AnyTimes()

	s.Require().NoError(s.store.Index(s.testCtx, tx))
	s.Require().NoError(s.store.Commit())

	rows, err := s.store.Rows(s.testCtx, model.ScriptHash(prevScript))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(uint64(3), rows[0].Link)
	s.False(rows[0].Output)
	s.Equal(model.OutpointChecksum(tx.MsgTx.TxIn[0].PreviousOutPoint), rows[0].Value)
}

func (s *AddressStoreSuite) TestCommitIsExactlyOnce() {
	tx := newIndexedTx(1, 1)
	tx.Metadata.Link = 4

	s.metrics.EXPECT().Observe("insert_payment_rows", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.store.Index(s.testCtx, tx))
	s.Require().NoError(s.store.Commit())
	// A second commit with an empty buffer sends nothing.
	s.Require().NoError(s.store.Commit())
}

// newIndexedTx builds a transaction with the given input and output counts.
func newIndexedTx(inputs, outputs int) *model.Transaction {
	msg := wire.NewMsgTx(wire.TxVersion)
	for i := 0; i < inputs; i++ {
		msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0xfe}, Index: uint32(i)}, nil, nil))
	}
	for i := 0; i < outputs; i++ {
		msg.AddTxOut(wire.NewTxOut(int64(1_000*(i+1)), []byte{0x51, byte(i)}))
	}
	return &model.Transaction{MsgTx: msg}
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}

	for {
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			return dir, nil
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", fmt.Errorf("go.mod not found from %s", dir)
		}
		dir = next
	}
}

func applyMigrationsUp(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeMigrator(m)
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func applyMigrationsDown(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeMigrator(m)
	}()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	root, err := moduleRoot()
	if err != nil {
		return nil, err
	}

	sourceURL := fmt.Sprintf("file://%s", filepath.Join(root, "migrations", "clickhouse"))
	targetDSN := withMultiStatement(dsn)
	m, err := migrate.New(sourceURL, targetDSN)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

func withMultiStatement(dsn string) string {
	if strings.Contains(dsn, "x-multi-statement=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "x-multi-statement=true"
}

func closeMigrator(m *migrate.Migrate) error {
	if m == nil {
		return nil
	}
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}
