package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
	"github.com/goodnatureofminers/chainstore7000/pkg/safe"
)

// Reorganization replaces the tail of an index above a fork point with a new
// sequence. Each pop and each push is an independent write transaction: a
// crash mid-reorg leaves a valid chain whose top lies between the old and
// new tips. The flush lock is deliberately not held across the whole reorg.

// ReorganizeHeaders pops the candidate headers above the fork point,
// returning them in ascending height order, and pushes the incoming headers
// onto it.
func (s *Store) ReorganizeHeaders(ctx context.Context, fork chain.Checkpoint, incoming []*model.Header) ([]*model.Header, error) {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("reorganize_headers", err, started) }()

	if _, err = safe.Add(fork.Height, uint64(len(incoming))); err != nil {
		err = chain.ErrOperationFailed
		return nil, err
	}

	outgoing, err := s.popAboveHeaders(ctx, fork)
	if err != nil {
		return nil, err
	}
	if err = s.pushAllHeaders(ctx, incoming, fork); err != nil {
		return outgoing, err
	}
	return outgoing, nil
}

// ReorganizeBlocks is the block-granularity twin: it pops confirmed blocks
// above the fork point and pushes the incoming blocks.
func (s *Store) ReorganizeBlocks(ctx context.Context, fork chain.Checkpoint, incoming []*model.Block) ([]*model.Block, error) {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("reorganize_blocks", err, started) }()

	if _, err = safe.Add(fork.Height, uint64(len(incoming))); err != nil {
		err = chain.ErrOperationFailed
		return nil, err
	}

	outgoing, err := s.popAboveBlocks(ctx, fork)
	if err != nil {
		return nil, err
	}
	if err = s.pushAllBlocks(ctx, incoming, fork); err != nil {
		return outgoing, err
	}
	return outgoing, nil
}

func (s *Store) popAboveHeaders(ctx context.Context, fork chain.Checkpoint) ([]*model.Header, error) {
	if err := s.verifyForkPoint(ctx, fork, true); err != nil {
		return nil, err
	}
	top, ok, err := s.blocks.Top(ctx, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chain.ErrOperationFailed
	}

	depth := top - fork.Height
	outgoing := make([]*model.Header, 0, depth)
	if depth == 0 {
		return outgoing, nil
	}

	// Pop downward, prepending so outgoing ends up in ascending height order.
	for height := top; height > fork.Height; height-- {
		next, err := s.PopHeader(ctx, height)
		if err != nil {
			return outgoing, err
		}
		outgoing = append([]*model.Header{next}, outgoing...)
	}
	return outgoing, nil
}

func (s *Store) pushAllHeaders(ctx context.Context, incoming []*model.Header, fork chain.Checkpoint) error {
	first := fork.Height + 1
	for i, header := range incoming {
		if err := s.PushHeader(ctx, header, first+uint64(i), header.Metadata.MedianTimePast); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) popAboveBlocks(ctx context.Context, fork chain.Checkpoint) ([]*model.Block, error) {
	if err := s.verifyForkPoint(ctx, fork, false); err != nil {
		return nil, err
	}
	top, ok, err := s.blocks.Top(ctx, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chain.ErrOperationFailed
	}

	depth := top - fork.Height
	outgoing := make([]*model.Block, 0, depth)
	if depth == 0 {
		return outgoing, nil
	}

	for height := top; height > fork.Height; height-- {
		next, err := s.PopBlock(ctx, height)
		if err != nil {
			return outgoing, err
		}
		outgoing = append([]*model.Block{next}, outgoing...)
	}
	return outgoing, nil
}

func (s *Store) pushAllBlocks(ctx context.Context, incoming []*model.Block, fork chain.Checkpoint) error {
	first := fork.Height + 1
	for i, block := range incoming {
		if err := s.PushBlock(ctx, block, first+uint64(i)); err != nil {
			return err
		}
	}
	return nil
}

// PushHeader appends the next candidate header. Headers already stored are
// re-used, not re-stored.
func (s *Store) PushHeader(ctx context.Context, header *model.Header, height uint64, medianTimePast uint32) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("push_header", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyPushHeader(ctx, header, height); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	hash := header.Hash()
	err = s.runWrite("push_header", func() error {
		if !header.Metadata.Exists {
			if err := s.blocks.Store(ctx, header, height, medianTimePast); err != nil {
				return err
			}
		}
		if err := s.blocks.Index(ctx, &hash, height, true); err != nil {
			return err
		}
		return s.blocks.Commit()
	})
	return err
}

// PopHeader removes the candidate top, which must be at the given height,
// uncandidating the transactions it references, and returns the header.
func (s *Store) PopHeader(ctx context.Context, height uint64) (*model.Header, error) {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("pop_header", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyTop(ctx, height, true); err != nil {
		return nil, err
	}
	result, getErr := s.blocks.GetByHeight(ctx, height, true)
	if getErr != nil {
		err = chain.ErrOperationFailed
		return nil, err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("pop_header", func() error {
		for _, link := range result.TxLinks {
			if err := s.transactions.Uncandidate(ctx, link); err != nil {
				return err
			}
		}
		if err := s.blocks.Unindex(ctx, &result.Hash, height, true); err != nil {
			return err
		}
		return s.commitAll()
	})
	if err != nil {
		return nil, err
	}

	return headerFromResult(result), nil
}

// PushBlock confirms the candidate block at the given height: its header
// must already be the candidate there and the confirmed top must be exactly
// one below. The block's chain-state snapshot supplies the median time past.
func (s *Store) PushBlock(ctx context.Context, block *model.Block, height uint64) error {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("push_block", err, started) }()

	state := block.Header.Metadata.State
	if state == nil {
		err = fmt.Errorf("%w: block missing chain state", chain.ErrOperationFailed)
		return err
	}
	medianTimePast := state.MedianTimePast

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyPushBlock(ctx, block, height); err != nil {
		return err
	}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	hash := block.Hash()
	err = s.runWrite("push_block", func() error {
		for position, tx := range block.Transactions {
			if err := s.transactions.Confirm(ctx, tx.Metadata.Link, height, medianTimePast, uint32(position)); err != nil {
				return err
			}
		}
		if err := s.blocks.Index(ctx, &hash, height, false); err != nil {
			return err
		}
		return s.commitAll()
	})
	return err
}

// PopBlock removes the confirmed top, which must be at the given height,
// unconfirming its transactions, and returns the hydrated block. The
// candidate index is unchanged.
func (s *Store) PopBlock(ctx context.Context, height uint64) (*model.Block, error) {
	started := time.Now()
	var err error
	defer func() { s.metrics.Observe("pop_block", err, started) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err = s.verifyTop(ctx, height, false); err != nil {
		return nil, err
	}
	result, getErr := s.blocks.GetByHeight(ctx, height, false)
	if getErr != nil {
		err = chain.ErrOperationFailed
		return nil, err
	}

	txs, txErr := s.toTransactions(ctx, result)
	if txErr != nil {
		err = chain.ErrOperationFailed
		return nil, err
	}
	out := &model.Block{Header: *headerFromResult(result), Transactions: txs}

	flushlock := lockConditional(s.cfg.FlushWrites, &s.flushMu)
	defer flushlock.Unlock()

	err = s.runWrite("pop_block", func() error {
		for _, tx := range out.Transactions {
			if err := s.transactions.Unconfirm(ctx, tx.Metadata.Link); err != nil {
				return err
			}
		}
		if err := s.blocks.Unindex(ctx, &result.Hash, height, false); err != nil {
			return err
		}
		return s.commitAll()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// toTransactions hydrates a header's transaction list from its link array.
func (s *Store) toTransactions(ctx context.Context, result *chain.BlockResult) ([]*model.Transaction, error) {
	txs := make([]*model.Transaction, 0, len(result.TxLinks))
	for _, link := range result.TxLinks {
		txResult, err := s.transactions.Get(ctx, link)
		if err != nil {
			return nil, err
		}
		txs = append(txs, &model.Transaction{
			MsgTx:    txResult.Tx,
			Metadata: model.TxMetadata{Link: link, Existed: true},
		})
	}
	return txs, nil
}

func headerFromResult(result *chain.BlockResult) *model.Header {
	return &model.Header{
		BlockHeader: result.Header,
		Metadata: model.HeaderMetadata{
			Exists:         true,
			Validated:      result.Validated,
			Error:          result.Error,
			MedianTimePast: result.MedianTimePast,
		},
	}
}
