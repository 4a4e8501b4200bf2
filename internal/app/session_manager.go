package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDraining is returned by [SessionManager.Begin] once shutdown has
// started; new connections are rejected while live ones drain.
var ErrDraining = errors.New("app: server is draining")

// SessionManager tracks every live session so shutdown can cancel and drain
// them all. Sessions are independent; the manager only owns their contexts.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	log *slog.Logger

	mu       sync.Mutex
	draining bool
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewSessionManager creates an empty manager.
func NewSessionManager(log *slog.Logger) *SessionManager {
	return &SessionManager{
		log:     log,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Begin registers a session under id and returns the context its Run must
// use plus an end function the caller defers. The context is cancelled either
// by CloseAll or by the end function itself; a session that finishes on its
// own (client disconnect) releases everything through end.
func (sm *SessionManager) Begin(id string) (context.Context, func(), error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.draining {
		return nil, nil, ErrDraining
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm.cancels[id] = cancel
	sm.wg.Add(1)

	var once sync.Once
	end := func() {
		once.Do(func() {
			sm.mu.Lock()
			delete(sm.cancels, id)
			sm.mu.Unlock()
			cancel()
			sm.wg.Done()
		})
	}
	return ctx, end, nil
}

// Count reports how many sessions are currently live.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.cancels)
}

// CloseAll cancels every live session and waits for them to finish. If ctx
// expires first, the remaining count is reported in the error; their
// goroutines keep draining in the background.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mu.Lock()
	sm.draining = true
	cancels := make([]context.CancelFunc, 0, len(sm.cancels))
	for _, cancel := range sm.cancels {
		cancels = append(cancels, cancel)
	}
	sm.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		sm.log.Info("draining sessions", "count", len(cancels))
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: %d session(s) still draining: %w", sm.Count(), ctx.Err())
	}
}
