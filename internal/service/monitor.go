package service

import (
	"context"
	"newsletter/internal/metrics"
	"newsletter/internal/repository"
	"newsletter/pkg/logger"
	"time"

	"go.uber.org/zap"
)

// QueueMonitor periodically publishes delivery queue gauges.
type QueueMonitor struct {
	queue    repository.DeliveryQueueInterface
	observer metrics.QueueObserver
	interval time.Duration
	now      func() time.Time
}

func NewQueueMonitor(queue repository.DeliveryQueueInterface, observer metrics.QueueObserver, interval time.Duration) *QueueMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &QueueMonitor{
		queue:    queue,
		observer: observer,
		interval: interval,
		now:      time.Now,
	}
}

func (m *QueueMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Info("queue monitor started", zap.Duration("interval", m.interval))
	m.Observe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Observe(ctx)
		}
	}
}

// Observe takes one sample.
func (m *QueueMonitor) Observe(ctx context.Context) {
	stats, err := m.queue.Stats(ctx, m.now())
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("queue monitor: failed to read queue stats", zap.Error(err))
		}
		return
	}
	m.observer.SetQueueDepth(stats.Depth)
	m.observer.SetQueueOverdue(stats.Ready)
	logger.Debug("queue stats", zap.Int64("depth", stats.Depth), zap.Int64("overdue", stats.Ready))
}
