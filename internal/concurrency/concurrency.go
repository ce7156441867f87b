// Package concurrency holds the goroutine pools shared by the worker and the batch processor.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a pool of at most maxGoroutines tasks that all fail together: the first error
// cancels the context passed to the remaining tasks and is the one Wait returns.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// NewBoundedPool returns a pool running at most maxGoroutines independent tasks. Go blocks while
// the pool is full.
func NewBoundedPool(maxGoroutines int) *pool.Pool {
	return pool.New().WithMaxGoroutines(max(maxGoroutines, 1))
}

// TrySendThroughChannel attempts to send msg through channel.
// If the context is canceled first, msg is not sent and false is returned.
func TrySendThroughChannel[T any](ctx context.Context, msg T, channel chan<- T) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case channel <- msg:
		return true
	}
}
