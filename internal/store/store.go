// Package store implements the write-path coordinator over the block,
// transaction and address leaf stores: exclusive single-writer semantics,
// the crash-consistent flush-lock protocol, the block lifecycle state
// machine and chain reorganization.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

// ErrClosed is returned by readers of a closed store.
var ErrClosed = errors.New("store closed")

// Config enumerates the store's settings.
type Config struct {
	Directory               string
	IndexAddresses          bool
	FlushWrites             bool
	BlockTableBuckets       uint32
	TransactionTableBuckets uint32
	AddressTableBuckets     uint32
	FileGrowthRate          uint16
	CacheCapacity           uint32
}

// Metrics observes store operations.
type Metrics interface {
	Observe(operation string, err error, started time.Time)
}

// NopMetrics discards observations.
type NopMetrics struct{}

func (NopMetrics) Observe(string, error, time.Time) {}

// Leaves bundles the leaf stores the coordinator composes. Addresses is nil
// unless address indexing is configured.
type Leaves struct {
	Blocks       chain.BlockStore
	Transactions chain.TransactionStore
	Addresses    chain.AddressStore
}

// Store coordinates all mutations of the on-disk chain state. At most one
// writer is active per instance; readers proceed concurrently through View.
type Store struct {
	logger  *zap.Logger
	cfg     Config
	metrics Metrics

	blocks       chain.BlockStore
	transactions chain.TransactionStore
	addresses    chain.AddressStore

	// writeMu is held for the full body of every mutating operation.
	writeMu sync.Mutex
	// flushMu serializes flushing against sentinel removal and close.
	flushMu sync.Mutex
	// closeMu is the readers' shared guard; close takes it exclusively.
	closeMu sync.RWMutex

	dirLock  *DirectoryLock
	sentinel *LockFile
	// sentinelHeld is guarded by writeMu (writers) and close.
	sentinelHeld bool

	closed atomic.Bool
}

// New builds a Store over the given leaves. The store starts closed; call
// Create or Open before use.
func New(cfg Config, leaves Leaves, logger *zap.Logger, metrics Metrics) (*Store, error) {
	if cfg.Directory == "" {
		return nil, errors.New("store directory is required")
	}
	if leaves.Blocks == nil || leaves.Transactions == nil {
		return nil, errors.New("block and transaction stores are required")
	}
	if cfg.IndexAddresses && leaves.Addresses == nil {
		return nil, errors.New("address store is required when indexing addresses")
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	logger.Debug("table buckets",
		zap.Uint32("block", cfg.BlockTableBuckets),
		zap.Uint32("transaction", cfg.TransactionTableBuckets),
		zap.Uint32("address", cfg.AddressTableBuckets),
	)

	s := &Store{
		logger:       logger,
		cfg:          cfg,
		metrics:      metrics,
		blocks:       leaves.Blocks,
		transactions: leaves.Transactions,
		addresses:    leaves.Addresses,
		dirLock:      NewDirectoryLock(cfg.Directory),
		sentinel:     NewLockFile(cfg.Directory),
	}
	s.closed.Store(true)
	return s, nil
}

// Create initializes the backing files of every leaf and pushes the genesis
// block at height zero. Not idempotent: it fails if the directory is already
// locked or any leaf file exists, and leaves a partially created directory
// behind on sub-failure.
func (s *Store) Create(ctx context.Context, genesis *model.Block) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("create", err, started) }()

	if err = s.dirLock.Acquire(); err != nil {
		return err
	}
	if err = s.blocks.Create(ctx); err != nil {
		err = fmt.Errorf("create block store: %w", err)
		return err
	}
	if err = s.transactions.Create(ctx); err != nil {
		err = fmt.Errorf("create transaction store: %w", err)
		return err
	}
	if s.cfg.IndexAddresses {
		if err = s.addresses.Create(ctx); err != nil {
			err = fmt.Errorf("create address store: %w", err)
			return err
		}
	}

	s.closed.Store(false)
	err = s.Push(ctx, genesis, 0, 0)
	return err
}

// CreateFromWire deserializes a raw genesis block and calls Create.
func (s *Store) CreateFromWire(ctx context.Context, rawGenesis []byte) error {
	genesis, err := model.DecodeBlock(rawGenesis)
	if err != nil {
		return err
	}
	return s.Create(ctx, genesis)
}

// Open acquires exclusive file access and opens every leaf. It refuses to
// open when a stale flush-lock sentinel signals an unclean shutdown. May be
// called again after Close.
func (s *Store) Open(ctx context.Context) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("open", err, started) }()

	if s.sentinel.Exists() {
		err = fmt.Errorf("%w: flush lock present, unclean shutdown", chain.ErrStoreLockFailure)
		return err
	}
	if err = s.dirLock.Acquire(); err != nil {
		return err
	}
	if err = s.blocks.Open(ctx); err != nil {
		err = fmt.Errorf("open block store: %w", err)
		return err
	}
	if err = s.transactions.Open(ctx); err != nil {
		err = fmt.Errorf("open transaction store: %w", err)
		return err
	}
	if s.cfg.IndexAddresses {
		if err = s.addresses.Open(ctx); err != nil {
			err = fmt.Errorf("open address store: %w", err)
			return err
		}
	}

	s.closed.Store(false)
	return nil
}

// Close is idempotent and safe to call from any thread. It waits for an
// in-flight write and for live readers, closes the leaves in reverse open
// order, removes the sentinel and releases the directory lock.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	var errs []error
	if s.cfg.IndexAddresses {
		if err := s.addresses.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close address store: %w", err))
		}
	}
	if err := s.transactions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transaction store: %w", err))
	}
	if err := s.blocks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close block store: %w", err))
	}

	// The sentinel is removed only after the leaves closed cleanly; a failed
	// close leaves it behind so the next open demands recovery.
	s.flushMu.Lock()
	if len(errs) == 0 && s.sentinelHeld {
		if err := s.sentinel.Remove(); err != nil {
			errs = append(errs, err)
		} else {
			s.sentinelHeld = false
		}
	}
	s.flushMu.Unlock()

	if err := s.dirLock.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Flush flushes every leaf in dependency order. It deliberately does not
// short-circuit on the closed flag: a flush racing close must still run, or
// the flush lock must remain.
func (s *Store) Flush() error {
	started := time.Now()
	s.flushMu.Lock()
	err := s.flushLeaves()
	s.flushMu.Unlock()
	s.metrics.Observe("flush", err, started)
	return err
}

// flushLeaves requires flushMu (directly or through the conditional lock).
func (s *Store) flushLeaves() error {
	if err := s.blocks.Flush(); err != nil {
		return fmt.Errorf("flush block store: %w", err)
	}
	if err := s.transactions.Flush(); err != nil {
		return fmt.Errorf("flush transaction store: %w", err)
	}
	if s.cfg.IndexAddresses {
		if err := s.addresses.Flush(); err != nil {
			return fmt.Errorf("flush address store: %w", err)
		}
	}
	return nil
}

// commitAll commits every leaf: addresses first, blocks last.
func (s *Store) commitAll() error {
	if s.cfg.IndexAddresses {
		if err := s.addresses.Commit(); err != nil {
			return fmt.Errorf("commit address store: %w", err)
		}
	}
	if err := s.transactions.Commit(); err != nil {
		return fmt.Errorf("commit transaction store: %w", err)
	}
	if err := s.blocks.Commit(); err != nil {
		return fmt.Errorf("commit block store: %w", err)
	}
	return nil
}

// Write-transaction protocol.
// ----------------------------------------------------------------------------

// beginWrite marks a write in flight. Without per-write flushing the sentinel
// is created once and held for the life of the store; with it, the sentinel
// is created per write and removed by endWrite after a successful flush.
func (s *Store) beginWrite() error {
	if s.sentinelHeld && !s.cfg.FlushWrites {
		return nil
	}
	if err := s.sentinel.Create(); err != nil {
		return err
	}
	s.sentinelHeld = true
	return nil
}

// endWrite clears the in-flight marker. On any failure the sentinel stays on
// disk and the next open refuses to proceed.
func (s *Store) endWrite() error {
	if !s.cfg.FlushWrites {
		return nil
	}
	if err := s.flushLeaves(); err != nil {
		return err
	}
	if err := s.sentinel.Remove(); err != nil {
		return err
	}
	s.sentinelHeld = false
	return nil
}

// runWrite executes the leaf mutations of one write transaction between
// begin and end markers. Leaf failures short-circuit without rollback; the
// on-disk state keeps whatever the last successful mutation produced.
func (s *Store) runWrite(op string, body func() error) error {
	if err := s.beginWrite(); err != nil {
		s.logger.Error("begin write failed", zap.String("operation", op), zap.Error(err))
		return chain.ErrStoreLockFailure
	}
	if err := body(); err != nil {
		s.logger.Error("write aborted", zap.String("operation", op), zap.Error(err))
		if endErr := s.endWrite(); endErr != nil {
			s.logger.Error("end write failed after aborted write",
				zap.String("operation", op), zap.Error(endErr))
		}
		return chain.ErrOperationFailed
	}
	if err := s.endWrite(); err != nil {
		s.logger.Error("end write failed", zap.String("operation", op), zap.Error(err))
		return chain.ErrStoreLockFailure
	}
	return nil
}

// Readers.
// ----------------------------------------------------------------------------

// View grants shared read access to the leaf stores. The release func must
// be called when done; Close blocks until every live view is released.
func (s *Store) View() (*View, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	s.closeMu.RLock()
	v := &View{blocks: s.blocks, transactions: s.transactions, addresses: s.addresses}
	return v, s.closeMu.RUnlock, nil
}

// View is a read-only handle on the leaf stores. Ownership stays with the
// Store; a view only pins the leaves open.
type View struct {
	blocks       chain.BlockStore
	transactions chain.TransactionStore
	addresses    chain.AddressStore
}

func (v *View) Blocks() chain.BlockStore             { return v.blocks }
func (v *View) Transactions() chain.TransactionStore { return v.transactions }

// Addresses is nil when address indexing is disabled.
func (v *View) Addresses() chain.AddressStore { return v.addresses }
