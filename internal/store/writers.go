package store

import (
	"context"
	"time"

	"github.com/goodnatureofminers/chainstore7000/internal/model"
	"github.com/goodnatureofminers/chainstore7000/pkg/workerpool"
)

// indexWorkers bounds concurrent address indexing of one block's transactions.
const indexWorkers = 4

// IndexTransaction adds the transaction to the payment index. A no-op when
// indexing is disabled or the transaction already existed at store time.
func (s *Store) IndexTransaction(ctx context.Context, tx *model.Transaction) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("index_transaction", err, started) }()

	if !s.cfg.IndexAddresses || tx.Metadata.Existed {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyTxExists(ctx, tx); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("index_transaction", func() error {
		if err := s.addresses.Index(ctx, tx); err != nil {
			return err
		}
		return s.addresses.Commit()
	})
	return err
}

// IndexBlock adds every transaction of the block that was not already stored
// to the payment index. A no-op when indexing is disabled.
func (s *Store) IndexBlock(ctx context.Context, block *model.Block) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("index_block", err, started) }()

	if !s.cfg.IndexAddresses {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyHeaderExists(ctx, &block.Header); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("index_block", func() error {
		fresh := make([]*model.Transaction, 0, len(block.Transactions))
		for _, tx := range block.Transactions {
			if !tx.Metadata.Existed {
				fresh = append(fresh, tx)
			}
		}
		if err := workerpool.Process(ctx, indexWorkers, fresh, s.addresses.Index, nil); err != nil {
			return err
		}
		return s.addresses.Commit()
	})
	return err
}

// StoreTransaction records an unconfirmed transaction, rejecting duplicates
// by hash, and populates the transaction's link metadata.
func (s *Store) StoreTransaction(ctx context.Context, tx *model.Transaction, forks uint32) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("store_transaction", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyTxMissing(ctx, tx); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("store_transaction", func() error {
		if err := s.transactions.Store(ctx, tx, forks); err != nil {
			return err
		}
		return s.transactions.Commit()
	})
	return err
}

// Update stores the missing transactions of an existing confirmed header and
// binds the header to their links. The header must have no associations yet.
func (s *Store) Update(ctx context.Context, block *model.Block, height uint64) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("update", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyUpdate(ctx, block, height); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("update", func() error {
		if err := s.transactions.StoreAll(ctx, block.Transactions); err != nil {
			return err
		}
		if err := s.blocks.Update(ctx, block); err != nil {
			return err
		}
		return s.commitAll()
	})
	return err
}

// Invalidate records a failed validation verdict against the header. It does
// not unwind the header's candidate or confirmed state; reorganization is
// the caller's move.
func (s *Store) Invalidate(ctx context.Context, header *model.Header, code model.ErrorCode) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("invalidate", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyHeaderExists(ctx, header); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	hash := header.Hash()
	err = s.runWrite("invalidate", func() error {
		if err := s.blocks.Validate(ctx, &hash, code); err != nil {
			return err
		}
		return s.blocks.Commit()
	})
	if err != nil {
		return err
	}

	header.Metadata.Error = code
	header.Metadata.Validated = true
	return nil
}

// Candidate marks the block valid and its transactions, and the outputs they
// spend, as candidate. The header must not carry a failed verdict.
func (s *Store) Candidate(ctx context.Context, block *model.Block) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("candidate", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyNotFailed(ctx, block); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	hash := block.Hash()
	err = s.runWrite("candidate", func() error {
		if err := s.blocks.Validate(ctx, &hash, model.ErrorNone); err != nil {
			return err
		}
		for _, tx := range block.Transactions {
			if err := s.transactions.Candidate(ctx, tx.Metadata.Link); err != nil {
				return err
			}
		}
		return s.commitAll()
	})
	if err != nil {
		return err
	}

	block.Header.Metadata.Error = model.ErrorNone
	block.Header.Metadata.Validated = true
	return nil
}

// Push stores, indexes, confirms and marks valid a presumed-valid block at
// the given height, extending both indices. Used on main-chain extension and
// genesis bootstrap.
func (s *Store) Push(ctx context.Context, block *model.Block, height uint64, medianTimePast uint32) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("push", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	hash := block.Hash()
	err = s.runWrite("push", func() error {
		if err := s.blocks.Store(ctx, &block.Header, height, medianTimePast); err != nil {
			return err
		}
		if err := s.blocks.Index(ctx, &hash, height, true); err != nil {
			return err
		}
		if err := s.transactions.StoreAll(ctx, block.Transactions); err != nil {
			return err
		}
		if err := s.blocks.Update(ctx, block); err != nil {
			return err
		}
		if err := s.transactions.ConfirmAll(ctx, block.Transactions, height, medianTimePast); err != nil {
			return err
		}
		if err := s.blocks.Validate(ctx, &hash, model.ErrorNone); err != nil {
			return err
		}
		if err := s.blocks.Index(ctx, &hash, height, false); err != nil {
			return err
		}
		return s.commitAll()
	})
	return err
}
