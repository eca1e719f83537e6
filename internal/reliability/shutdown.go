// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reliability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/fird/internal/log"
)

// ShutdownToken is the process-scoped drain coordinator. Middleware tracks
// active requests through it; the daemon flips it on SIGTERM and waits for
// the count to reach zero or the timeout to expire.
type ShutdownToken struct {
	shuttingDown atomic.Bool
	active       atomic.Int64
	timeout      time.Duration

	mu   sync.Mutex
	zero chan struct{} // closed when active hits 0 while draining
}

// NewShutdownToken creates a token with the given drain timeout.
func NewShutdownToken(timeout time.Duration) *ShutdownToken {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownToken{timeout: timeout}
}

// IsShuttingDown reports whether the drain has begun.
func (t *ShutdownToken) IsShuttingDown() bool {
	return t.shuttingDown.Load()
}

// ActiveRequests returns the in-flight request count.
func (t *ShutdownToken) ActiveRequests() int64 {
	return t.active.Load()
}

// Enter registers an in-flight request. It returns false once draining has
// begun, in which case the caller must reject the request.
func (t *ShutdownToken) Enter() bool {
	if t.shuttingDown.Load() {
		return false
	}
	t.active.Add(1)
	// A drain may have started between the check and the increment; back out
	// so the drain does not wait on a request we are about to reject.
	if t.shuttingDown.Load() {
		t.Exit()
		return false
	}
	return true
}

// Exit unregisters an in-flight request.
func (t *ShutdownToken) Exit() {
	if t.active.Add(-1) == 0 && t.shuttingDown.Load() {
		t.mu.Lock()
		if t.zero != nil {
			select {
			case <-t.zero:
			default:
				close(t.zero)
			}
		}
		t.mu.Unlock()
	}
}

// Begin flips the token into draining mode.
func (t *ShutdownToken) Begin() {
	t.mu.Lock()
	if t.zero == nil {
		t.zero = make(chan struct{})
	}
	t.mu.Unlock()

	t.shuttingDown.Store(true)
	log.WithComponent("shutdown").Info().
		Str(log.FieldEvent, "shutdown.begin").
		Int64("active_requests", t.active.Load()).
		Msg("drain started; rejecting new requests")
}

// Drain blocks until all in-flight requests finish or the token's timeout
// (or ctx) expires. It returns true on a clean drain.
func (t *ShutdownToken) Drain(ctx context.Context) bool {
	if t.active.Load() == 0 {
		return true
	}

	t.mu.Lock()
	zero := t.zero
	t.mu.Unlock()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-zero:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	log.WithComponent("shutdown").Warn().
		Str(log.FieldEvent, "shutdown.drain_timeout").
		Int64("active_requests", t.active.Load()).
		Msg("drain timed out; flushing anyway")
	return false
}
