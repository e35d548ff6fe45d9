package store

import (
	"context"
	"errors"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

// Preconditions run read-only against leaf state, under writeMu and before
// the write transaction begins. Their failures surface verbatim: no sentinel
// is written and no leaf is mutated.

func (s *Store) verifyHeaderExists(ctx context.Context, header *model.Header) error {
	hash := header.Hash()
	if _, err := s.blocks.Get(ctx, &hash); err != nil {
		return err
	}
	return nil
}

func (s *Store) verifyTxExists(ctx context.Context, tx *model.Transaction) error {
	hash := tx.Hash()
	if _, err := s.transactions.GetByHash(ctx, &hash); err != nil {
		return err
	}
	return nil
}

func (s *Store) verifyTxMissing(ctx context.Context, tx *model.Transaction) error {
	hash := tx.Hash()
	_, err := s.transactions.GetByHash(ctx, &hash)
	switch {
	case err == nil:
		return chain.ErrDuplicateTransaction
	case errors.Is(err, chain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// verifyUpdate requires the confirmed header at height to be the block's own
// header with no transaction associations yet.
func (s *Store) verifyUpdate(ctx context.Context, block *model.Block, height uint64) error {
	result, err := s.blocks.GetByHeight(ctx, height, false)
	if err != nil {
		return err
	}
	if result.Hash != block.Hash() {
		return chain.ErrNotFound
	}
	if len(result.TxLinks) != 0 {
		return chain.ErrOperationFailed
	}
	return nil
}

// verifyNotFailed rejects headers carrying a recorded validation failure.
func (s *Store) verifyNotFailed(ctx context.Context, block *model.Block) error {
	hash := block.Hash()
	result, err := s.blocks.Get(ctx, &hash)
	if err != nil {
		return err
	}
	if result.Validated && result.Error != model.ErrorNone {
		return chain.ErrOperationFailed
	}
	return nil
}

// verifyPushHeader requires height to be exactly the next candidate height
// and the header to connect to the current candidate top.
func (s *Store) verifyPushHeader(ctx context.Context, header *model.Header, height uint64) error {
	top, ok, err := s.blocks.Top(ctx, true)
	if err != nil {
		return err
	}
	if !ok {
		if height != 0 {
			return chain.ErrInvalidHeight
		}
		return nil
	}
	if height != top+1 {
		return chain.ErrInvalidHeight
	}
	result, err := s.blocks.GetByHeight(ctx, top, true)
	if err != nil {
		return err
	}
	if header.PrevBlock != result.Hash {
		return chain.ErrMissingParent
	}
	return nil
}

// verifyPushBlock requires the block's header to be the candidate at height
// and the confirmed top to be exactly height-1.
func (s *Store) verifyPushBlock(ctx context.Context, block *model.Block, height uint64) error {
	top, ok, err := s.blocks.Top(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		if height != 0 {
			return chain.ErrInvalidHeight
		}
	} else if top+1 != height {
		return chain.ErrInvalidHeight
	}
	result, err := s.blocks.GetByHeight(ctx, height, true)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return chain.ErrMissingParent
		}
		return err
	}
	if result.Hash != block.Hash() {
		return chain.ErrMissingParent
	}
	return nil
}

// verifyTop requires the chosen index's top to be exactly height.
func (s *Store) verifyTop(ctx context.Context, height uint64, candidate bool) error {
	top, ok, err := s.blocks.Top(ctx, candidate)
	if err != nil {
		return err
	}
	if !ok || top != height {
		return chain.ErrOperationFailed
	}
	return nil
}

// verifyForkPoint requires the fork point to name the indexed header at its
// height.
func (s *Store) verifyForkPoint(ctx context.Context, fork chain.Checkpoint, candidate bool) error {
	top, ok, err := s.blocks.Top(ctx, candidate)
	if err != nil {
		return err
	}
	if !ok || fork.Height > top {
		return chain.ErrInvalidForkPoint
	}
	result, err := s.blocks.GetByHeight(ctx, fork.Height, candidate)
	if err != nil {
		return chain.ErrInvalidForkPoint
	}
	if result.Hash != fork.Hash {
		return chain.ErrInvalidForkPoint
	}
	return nil
}
