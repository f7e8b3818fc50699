package offline

import (
	"context"
	"errors"
	"sync"
)

// ErrShuttingDown is returned when work is scheduled after Drain started.
var ErrShuttingDown = errors.New("offline: worker is shutting down")

// Lifetime keeps the worker alive until every tracked task has settled.
type Lifetime struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

func (l *Lifetime) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.draining {
		return false
	}
	l.wg.Add(1)
	return true
}

// WaitUntil runs task and holds the worker alive until it returns.
func (l *Lifetime) WaitUntil(task func() error) error {
	if !l.acquire() {
		return ErrShuttingDown
	}
	defer l.wg.Done()
	return task()
}

// Go runs task in the background under the worker lifetime. Tasks scheduled
// after Drain started are dropped and reported as false.
func (l *Lifetime) Go(task func()) bool {
	if !l.acquire() {
		return false
	}
	go func() {
		defer l.wg.Done()
		task()
	}()
	return true
}

// Drain stops accepting new tasks and waits for tracked ones to finish.
func (l *Lifetime) Drain(ctx context.Context) error {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
