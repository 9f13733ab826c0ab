package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanicAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("worker.0", func(ctx context.Context) error {
		panic("boom")
	})
	s.Go("worker.1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as supervisor error")
	}

	snap := s.Snapshot()
	if snap.Counters.Active != 0 {
		t.Fatalf("active = %d, want 0", snap.Counters.Active)
	}
	var panics uint64
	for _, g := range snap.Goroutines {
		panics += g.Panics
	}
	if panics != 1 {
		t.Fatalf("panics = %d, want 1", panics)
	}
}

func TestStopJoinsGoroutines(t *testing.T) {
	s := New(context.Background())
	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		s.Go("loop", func(ctx context.Context) error {
			<-ctx.Done()
			exited.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := exited.Load(); got != 3 {
		t.Fatalf("exited = %d, want 3", got)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("watch", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartErrorsDoNotCancel(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("watch", func(ctx context.Context) error {
		if runs.Add(1) <= 3 {
			return errors.New("watch failed")
		}
		<-ctx.Done()
		return ctx.Err()
	}, time.Millisecond, 2*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want 4", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Context().Err(); err != nil {
		t.Fatalf("supervisor context cancelled: %v", err)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
