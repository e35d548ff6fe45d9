// Package workerpool provides simple concurrent processing utilities.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Process runs up to workerCount workers over the items, invoking process for
// each. The first process error cancels the remaining work and is returned;
// onCancel, when set, fires once on that cancellation.
func Process[T any](
	ctx context.Context,
	workerCount int,
	items []T,
	process func(context.Context, T) error,
	onCancel func(),
) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if workerCount > len(items) {
		workerCount = len(items)
	}
	if workerCount < 1 {
		workerCount = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		next     atomic.Int64
		firstErr atomic.Value
		once     sync.Once
		wg       sync.WaitGroup
	)

	fail := func(err error) {
		once.Do(func() {
			firstErr.Store(err)
			if onCancel != nil {
				onCancel()
			}
			cancel()
		})
	}

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				i := next.Add(1) - 1
				if i >= int64(len(items)) {
					return
				}
				if err := process(ctx, items[i]); err != nil {
					fail(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err, ok := firstErr.Load().(error); ok {
		return err
	}
	return ctx.Err()
}
