// Package cancel provides a cooperative cancellation primitive for the
// agent loop: a token checked at well-defined points (loop head, between
// stream chunks, before and between tool executions) rather than relied on
// to interrupt work already in flight.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is a cooperative, idempotent cancellation signal. It wraps a
// context.CancelFunc so callers that already thread a context through the
// provider/tool layers get cancellation for free, while also exposing a
// cheap Tripped() check for hot loops that poll rather than select.
type Token struct {
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	tripped atomic.Bool
}

// New derives a cancellable token from parent.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context that is cancelled when Cancel is called.
func (t *Token) Context() context.Context { return t.ctx }

// Cancel trips the token. Safe to call multiple times and from multiple
// goroutines; only the first call has effect.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.tripped.Store(true)
		t.cancel()
	})
}

// Tripped reports whether Cancel has been called, without blocking. Use at
// the top of the turn loop and between tool executions where a select on
// Done() would add a branch to an otherwise straight-line check.
func (t *Token) Tripped() bool {
	return t.tripped.Load()
}

// Done returns the underlying context's Done channel, for use in select
// statements around blocking operations (stream reads, subprocess waits).
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}
