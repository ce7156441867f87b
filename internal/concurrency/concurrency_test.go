package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTrySendThroughChannel(t *testing.T) {
	var testcases = map[string]struct {
		ctxCancelled bool
		message      struct{}
	}{
		`ctx_cancel`: {
			ctxCancelled: true,
			message:      struct{}{},
		},
		`no_ctx_cancel`: {
			ctxCancelled: false,
			message:      struct{}{},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			var channel chan struct{}
			ctx := context.Background()

			var cancelFunc context.CancelFunc
			if tc.ctxCancelled {
				channel = make(chan struct{})
				ctx, cancelFunc = context.WithCancel(ctx)
				cancelFunc()
			} else {
				channel = make(chan struct{}, 1)
			}
			TrySendThroughChannel(ctx, tc.message, channel)
			if tc.ctxCancelled {
				close(channel)
				_, ok := <-channel
				require.False(t, ok)
			} else {
				element, ok := <-channel
				require.True(t, ok)
				require.NotNil(t, element)
			}
		})
	}
}

func TestNewPoolCancelsOnFirstError(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	boom := errors.New("boom")
	p := NewPool(context.Background(), 2)

	p.Go(func(ctx context.Context) error {
		return boom
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, p.Wait(), boom)
}

func TestNewBoundedPool(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	var running, peak atomic.Int32
	p := NewBoundedPool(2)
	for range 10 {
		p.Go(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	p.Wait()

	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Positive(t, peak.Load())
}
