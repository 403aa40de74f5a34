// Package dispatch runs fire-and-forget background tasks that outlive the
// request that started them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// ErrClosed is returned by Go after Shutdown has started.
var ErrClosed = errors.New("dispatcher is shut down")

// Task is one unit of background work. The context is detached from the
// caller and cancelled only by the task timeout.
type Task func(ctx context.Context) error

// Dispatcher spawns tasks and tracks them so shutdown can wait for them.
type Dispatcher struct {
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher. A positive timeout bounds each task.
func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

// Go starts task in the background and returns its id. Errors and panics
// inside the task are logged and end only that task.
func (d *Dispatcher) Go(name string, task Task) (string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	id := uuid.NewString()
	go func() {
		defer d.wg.Done()
		start := time.Now()
		if err := d.run(task); err != nil {
			logger.Error("Task %s[%s] failed after %s: %v", name, id, time.Since(start).Round(time.Millisecond), err)
			return
		}
		logger.Debug("Task %s[%s] finished in %s", name, id, time.Since(start).Round(time.Millisecond))
	}()
	return id, nil
}

func (d *Dispatcher) run(task Task) (err error) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting tasks and waits for running ones until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All background tasks finished")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
