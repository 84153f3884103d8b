package token

import (
	"context"
	"sync"
)

// Future resolves once the event an async call is tracking has happened.
// Unlike tokens, futures may be waited on from any goroutine.
type Future struct {
	done   chan struct{}
	once   sync.Once
	reason Reason
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(reason Reason) {
	f.once.Do(func() {
		f.reason = reason
		close(f.done)
	})
}

// Done is closed when the future resolves
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends
func (f *Future) Wait(ctx context.Context) (Reason, error) {
	select {
	case <-f.done:
		return f.reason, nil
	case <-ctx.Done():
		return ReasonNone, ctx.Err()
	}
}

// Result returns the resolution without blocking
func (f *Future) Result() (Reason, bool) {
	select {
	case <-f.done:
		return f.reason, true
	default:
		return ReasonNone, false
	}
}
