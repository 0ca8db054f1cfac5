// Package background runs long lived tasks next to the HTTP server and
// waits for them on shutdown.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Background struct {
	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log logrus.FieldLogger) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{log: log, ctx: ctx, cancel: cancel}
}

// Go runs fn until it returns. The context passed to fn is cancelled by
// Shutdown. Panics are logged and end the task.
func (b *Background) Go(name string, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				b.log.WithFields(logrus.Fields{
					"task":  name,
					"panic": rec,
				}).Error("background task panicked")
			}
		}()

		fn(b.ctx)
	}()
}

// Every runs fn once per interval until Shutdown.
func (b *Background) Every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	b.Go(name, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					b.log.WithError(err).WithField("task", name).Warn("background task failed")
				}
			}
		}
	})
}

// Shutdown cancels every task and waits for them or for ctx.
func (b *Background) Shutdown(ctx context.Context) error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
