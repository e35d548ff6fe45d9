package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAllItems(t *testing.T) {
	t.Parallel()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Process(context.Background(), 8, items, func(_ context.Context, v int) error {
		mu.Lock()
		seen[v] = true
		mu.Unlock()
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Len(t, seen, len(items))
}

func TestProcessStopsOnError(t *testing.T) {
	t.Parallel()

	items := make([]int, 1000)
	boom := errors.New("boom")
	canceled := false

	err := Process(context.Background(), 4, items, func(ctx context.Context, v int) error {
		if v == 0 {
			return boom
		}
		return nil
	}, func() { canceled = true })
	require.ErrorIs(t, err, boom)
	assert.True(t, canceled)
}

func TestProcessCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Process(ctx, 2, []int{1, 2, 3}, func(context.Context, int) error {
		t.Fatal("process should not run")
		return nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessEmpty(t *testing.T) {
	t.Parallel()

	err := Process(context.Background(), 4, nil, func(context.Context, int) error {
		t.Fatal("process should not run")
		return nil
	}, nil)
	require.NoError(t, err)
}
