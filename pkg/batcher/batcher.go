// Package batcher provides a buffered batch processor with rate-limited
// flushing and an on-demand synchronous drain.
package batcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Batcher buffers items and flushes them by size, by interval, or on demand
// through Flush.
type Batcher[T any] struct {
	flushCallback func(context.Context, []T) error
	flushSize     int
	flushInterval time.Duration
	rl            ratelimit.Limiter
	logger        *zap.Logger

	mu  sync.Mutex
	buf []T

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Batcher. rps bounds the rate of flush calls.
func New[T any](logger *zap.Logger, flushCallback func(context.Context, []T) error, flushSize int, flushInterval time.Duration, rps int) *Batcher[T] {
	return &Batcher[T]{
		logger:        logger,
		flushCallback: flushCallback,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		rl:            ratelimit.New(rps),
		buf:           make([]T, 0, flushSize),
		stop:          make(chan struct{}),
	}
}

// Start begins the background interval flushing loop.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop halts the background loop and drains the remaining buffer.
func (b *Batcher[T]) Stop() {
	close(b.stop)
	b.wg.Wait()
	if err := b.Flush(context.Background()); err != nil {
		b.logger.Error("final flush failed", zap.Error(err))
	}
}

// Add buffers an item, flushing first when the buffer is full.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.mu.Lock()
	full := len(b.buf) >= b.flushSize
	if !full {
		b.buf = append(b.buf, item)
	}
	b.mu.Unlock()

	if !full {
		return nil
	}
	if err := b.Flush(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.buf = append(b.buf, item)
	b.mu.Unlock()
	return nil
}

// Flush synchronously drains the buffer through the flush callback. Items
// are restored to the buffer when the callback fails.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.buf
	b.buf = make([]T, 0, b.flushSize)
	b.mu.Unlock()

	b.rl.Take()
	if err := b.flushCallback(ctx, batch); err != nil {
		b.mu.Lock()
		b.buf = append(batch, b.buf...)
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *Batcher[T]) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.logger.Error("interval flush failed", zap.Error(err))
			}
		}
	}
}
