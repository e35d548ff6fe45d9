package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
	"github.com/goodnatureofminers/chainstore7000/internal/model"
)

// Key layout: 'h'+hash → headerRecord, 'c'/'f'+height → hash (candidate and
// confirmed indices), "ct"/"ft" → index top height.
var (
	headerPrefix    = []byte("h")
	candidatePrefix = []byte("c")
	confirmedPrefix = []byte("f")
	candidateTopKey = []byte("ct")
	confirmedTopKey = []byte("ft")
)

// Blocks is the badger-backed block leaf store.
type Blocks struct {
	db     *db
	logger *zap.Logger
}

// NewBlocks places the block database under directory/blocks.
func NewBlocks(directory string, logger *zap.Logger) *Blocks {
	logger = logger.Named("blocks")
	return &Blocks{
		db:     newDB(filepath.Join(directory, "blocks"), logger),
		logger: logger,
	}
}

func (b *Blocks) Create(ctx context.Context) error { return b.db.create(ctx) }
func (b *Blocks) Open(ctx context.Context) error   { return b.db.open(ctx) }
func (b *Blocks) Close() error                     { return b.db.close() }
func (b *Blocks) Flush() error                     { return b.db.flush() }
func (b *Blocks) Commit() error                    { return b.db.commit() }

func headerKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 0, len(headerPrefix)+len(hash))
	key = append(key, headerPrefix...)
	return append(key, hash[:]...)
}

func indexKey(height uint64, candidate bool) []byte {
	prefix := confirmedPrefix
	if candidate {
		prefix = candidatePrefix
	}
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	return append(key, encodeUint64(height)...)
}

func topKey(candidate bool) []byte {
	if candidate {
		return candidateTopKey
	}
	return confirmedTopKey
}

func (b *Blocks) loadHeader(hash *chainhash.Hash) (*headerRecord, error) {
	raw, err := b.db.get(headerKey(hash))
	if err != nil {
		return nil, err
	}
	var rec headerRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *Blocks) storeHeader(hash *chainhash.Hash, rec *headerRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	b.db.stagePut(headerKey(hash), raw)
	return nil
}

// Store records the header at height with its median time past. A header
// already present keeps its state and transaction links.
func (b *Blocks) Store(ctx context.Context, header *model.Header, height uint64, medianTimePast uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash := header.Hash()
	rec, err := b.loadHeader(&hash)
	switch {
	case err == nil:
		rec.Height = height
		rec.MedianTimePast = medianTimePast
	case err == chain.ErrNotFound:
		raw, serr := serializeHeader(&header.BlockHeader)
		if serr != nil {
			return serr
		}
		rec = &headerRecord{RawHeader: raw, Height: height, MedianTimePast: medianTimePast}
	default:
		return err
	}

	if err := b.storeHeader(&hash, rec); err != nil {
		return err
	}
	header.Metadata.Exists = true
	header.Metadata.MedianTimePast = medianTimePast
	return nil
}

// Update binds the header to its transactions' links. Every link must be
// populated.
func (b *Blocks) Update(ctx context.Context, block *model.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash := block.Hash()
	rec, err := b.loadHeader(&hash)
	if err != nil {
		return err
	}

	links := make([]uint64, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		if tx.Metadata.Link == 0 {
			return fmt.Errorf("transaction %s link not populated", tx.Hash())
		}
		links = append(links, tx.Metadata.Link)
	}
	rec.TxLinks = links
	return b.storeHeader(&hash, rec)
}

// Validate records a validation verdict against the header.
func (b *Blocks) Validate(ctx context.Context, hash *chainhash.Hash, code model.ErrorCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := b.loadHeader(hash)
	if err != nil {
		return err
	}
	rec.Validated = true
	rec.Error = uint32(code)
	return b.storeHeader(hash, rec)
}

// Index appends the hash at height to the chosen index. Appends must be
// contiguous from zero.
func (b *Blocks) Index(ctx context.Context, hash *chainhash.Hash, height uint64, candidate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	top, ok, err := b.Top(ctx, candidate)
	if err != nil {
		return err
	}
	if ok && height != top+1 {
		return fmt.Errorf("index height %d does not extend top %d", height, top)
	}
	if !ok && height != 0 {
		return fmt.Errorf("index height %d onto empty index", height)
	}

	b.db.stagePut(indexKey(height, candidate), hash[:])
	b.db.stagePut(topKey(candidate), encodeUint64(height))
	return nil
}

// Unindex removes the hash from the top of the chosen index.
func (b *Blocks) Unindex(ctx context.Context, hash *chainhash.Hash, height uint64, candidate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	top, ok, err := b.Top(ctx, candidate)
	if err != nil {
		return err
	}
	if !ok || top != height {
		return fmt.Errorf("unindex height %d is not the top", height)
	}
	raw, err := b.db.get(indexKey(height, candidate))
	if err != nil {
		return err
	}
	indexed, err := chainhash.NewHash(raw)
	if err != nil {
		return fmt.Errorf("indexed hash at height %d: %w", height, err)
	}
	if *hash != *indexed {
		return fmt.Errorf("unindex hash mismatch at height %d", height)
	}

	b.db.stageDelete(indexKey(height, candidate))
	if height == 0 {
		b.db.stageDelete(topKey(candidate))
	} else {
		b.db.stagePut(topKey(candidate), encodeUint64(height-1))
	}
	return nil
}

// Get reads the header record by hash.
func (b *Blocks) Get(ctx context.Context, hash *chainhash.Hash) (*chain.BlockResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := b.loadHeader(hash)
	if err != nil {
		return nil, err
	}
	return resultFromRecord(hash, rec)
}

// GetByHeight reads the header record indexed at height.
func (b *Blocks) GetByHeight(ctx context.Context, height uint64, candidate bool) (*chain.BlockResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := b.db.get(indexKey(height, candidate))
	if err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHash(raw)
	if err != nil {
		return nil, fmt.Errorf("indexed hash at height %d: %w", height, err)
	}
	return b.Get(ctx, hash)
}

// Top returns the top height of the chosen index; ok is false when empty.
func (b *Blocks) Top(ctx context.Context, candidate bool) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	raw, err := b.db.get(topKey(candidate))
	if err == chain.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	top, err := decodeUint64(raw)
	if err != nil {
		return 0, false, err
	}
	return top, true, nil
}

func resultFromRecord(hash *chainhash.Hash, rec *headerRecord) (*chain.BlockResult, error) {
	header, err := deserializeHeader(rec.RawHeader)
	if err != nil {
		return nil, err
	}
	return &chain.BlockResult{
		Hash:           *hash,
		Header:         header,
		Height:         rec.Height,
		MedianTimePast: rec.MedianTimePast,
		Validated:      rec.Validated,
		Error:          model.ErrorCode(rec.Error),
		TxLinks:        rec.TxLinks,
	}, nil
}
