package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestShutdownWaitsForTasks(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(log)

	var finished atomic.Bool
	b.Go("wait", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	})

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Fatalf("shutdown returned before the task finished")
	}
}

func TestShutdownTimeout(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(log)

	release := make(chan struct{})
	defer close(release)
	b.Go("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
}

func TestEvery(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	b := New(log)

	var runs atomic.Int32
	b.Every("tick", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected repeated runs, got %d", runs.Load())
	}
	if len(hook.AllEntries()) == 0 {
		t.Fatalf("expected failures to be logged")
	}
}

func TestPanicIsContained(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	b := New(log)

	b.Go("panic", func(ctx context.Context) { panic("boom") })

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e := hook.LastEntry(); e == nil || e.Data["task"] != "panic" {
		t.Fatalf("expected the panic to be logged, got %+v", e)
	}
}
