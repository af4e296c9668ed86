// Package testing provides helpers for tests that run analysis jobs on
// several goroutines.
//
// t.Fatal and t.FailNow must only be called from the test goroutine. The
// helpers here collect errors returned by worker goroutines and report
// them from the test goroutine instead.
package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// GoroutineTest collects the errors of goroutines started by a test.
//
//	gt := testing.NewGoroutineTest(t)
//	for _, s := range samples {
//	    gt.Go(func() error {
//	        _, err := analysis.RunSample(ctx, cfg, s, opts)
//	        return err
//	    })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context is cancelled by
// Wait.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context
// expires after timeout.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.GoWithContext(func(context.Context) error { return fn() })
}

// GoWithContext runs fn with the context of the test in a goroutine and
// records its error.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an
// error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	if err := gt.Err(); err != nil {
		gt.t.Fatalf("goroutines failed: %v", err)
	}
}

// Err returns the recorded errors joined, or nil. It must only be called
// after the goroutines finished.
func (gt *GoroutineTest) Err() error {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return errors.Join(gt.errs...)
}

// Context returns the context passed to GoWithContext functions.
func (gt *GoroutineTest) Context() context.Context { return gt.ctx }

// Cancel cancels the context of the test.
func (gt *GoroutineTest) Cancel() { gt.cancel() }

// WithTimeout runs fn and returns its error, or a timeout error when fn
// does not return within timeout.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
