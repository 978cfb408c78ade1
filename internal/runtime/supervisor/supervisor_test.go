package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitReturnsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	want := errors.New("boom")

	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("bad", func(ctx context.Context) error { return want })

	err := s.Wait(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("Wait() = %v, want %v", err, want)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("panics", func(ctx context.Context) error { panic("kaboom") })

	err := s.Wait(context.Background())
	if err == nil || err.Error() != "panic in panics: kaboom" {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	released := make(chan struct{})
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(released)
		return ctx.Err()
	})
	s.Go("bad", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling goroutine was not cancelled")
	}
	if err := s.Wait(context.Background()); err == nil {
		t.Fatal("expected first error to be recorded")
	}
}

func TestContextCanceledIsCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestGoRestartRestartsEarlyExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return ctx.Err()
	}, time.Millisecond, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&runs) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", atomic.LoadInt32(&runs))
		case <-time.After(time.Millisecond):
		}
	}

	s.Cancel()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	block := make(chan struct{})
	defer close(block)
	s.Go("stuck", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}
}
