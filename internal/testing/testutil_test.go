package testing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineTest_CollectsErrors(t *testing.T) {
	gt := NewGoroutineTest(t)
	var ran atomic.Int32
	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			ran.Add(1)
			if i == 3 {
				return boom
			}
			return nil
		})
	}
	gt.wg.Wait()

	if ran.Load() != 5 {
		t.Errorf("ran = %d, want 5", ran.Load())
	}
	if err := gt.Err(); !errors.Is(err, boom) {
		t.Errorf("Err() = %v, want boom", err)
	}
}

func TestGoroutineTest_Context(t *testing.T) {
	gt := NewGoroutineTestWithTimeout(t, 50*time.Millisecond)
	gt.GoWithContext(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	gt.Wait()

	if gt.Context().Err() == nil {
		t.Error("context not cancelled after Wait")
	}
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("WithTimeout: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	if err := WithTimeout(10*time.Millisecond, func() error {
		<-release
		return nil
	}); err == nil {
		t.Error("expected a timeout")
	}
}
