package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Every runs fn on a fixed interval until ctx is cancelled or the returned stop
// function is called. Stop blocks until an in-flight run has returned.
func Every(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, fn func(context.Context) error) (stop func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := fn(ctx); err != nil {
					logger.Warn("periodic job failed", zap.String("job", name), zap.Error(err))
					continue
				}
				logger.Debug("periodic job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
