package service

import (
	"context"
	"fmt"
	"newsletter/pkg/logger"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a loop that returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// RunWorkers starts n copies of w and blocks until all of them have stopped. A panicking loop
// is logged and restarted after the worker's error interval.
func RunWorkers(ctx context.Context, n int, w *DeliveryWorker) {
	if n < 1 {
		n = 1
	}
	logger.Info("starting delivery workers", zap.Int("workers", n))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			for ctx.Err() == nil {
				if err := runGuarded(ctx, w); err != nil {
					logger.Error("delivery worker crashed, restarting",
						zap.Int("worker", id),
						zap.Error(err))
					sleepCtx(ctx, w.cfg.ErrorInterval)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("delivery workers stopped")
}

func runGuarded(ctx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			logger.Error("worker panic", zap.Any("panic", p), zap.String("stack", string(debug.Stack())))
		}
	}()
	r.Run(ctx)
	return nil
}
