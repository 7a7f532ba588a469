// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples each lane of the configured queue and
// updates the lane-length gauge.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}
	queueName := cfg.Consumer.Queue

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleListLane(ctx, rdb, log, queueName, "wait", queue.WaitKey(queueName))
				sampleListLane(ctx, rdb, log, queueName, "completed", queue.CompletedKey(queueName))
				sampleListLane(ctx, rdb, log, queueName, "failed", queue.FailedKey(queueName))
				sampleZSetLane(ctx, rdb, log, queueName, "delayed", queue.DelayedKey(queueName))
				sampleZSetLane(ctx, rdb, log, queueName, "active", queue.ActiveKey(queueName))
			}
		}
	}()
}

func sampleListLane(ctx context.Context, rdb *redis.Client, log *zap.Logger, queueName, lane, key string) {
	n, err := rdb.LLen(ctx, key).Result()
	if err != nil {
		log.Debug("queue length poll error", String("queue", queueName), String("lane", lane), Err(err))
		return
	}
	QueueLength.WithLabelValues(queueName, lane).Set(float64(n))
}

func sampleZSetLane(ctx context.Context, rdb *redis.Client, log *zap.Logger, queueName, lane, key string) {
	n, err := rdb.ZCard(ctx, key).Result()
	if err != nil {
		log.Debug("queue length poll error", String("queue", queueName), String("lane", lane), Err(err))
		return
	}
	QueueLength.WithLabelValues(queueName, lane).Set(float64(n))
}
