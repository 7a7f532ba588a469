// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/obs"
	"github.com/quaydock/jobqueue/internal/queue"
	"go.uber.org/zap"
)

// Reaper is the standalone maintenance runner: it ticks promote_delayed
// and reap_expired independently of any live consumer, so a queue nobody
// is currently consuming still self-heals. A running Consumer already
// performs the same maintenance inline; this is the operationally optional
// stand-alone equivalent for e.g. a queue with zero consumers attached.
type Reaper struct {
	cfg *config.Config
	ops *queue.Ops
	log *zap.Logger
}

func New(cfg *config.Config, ops *queue.Ops, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, ops: ops, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	promoteTicker := time.NewTicker(r.cfg.Consumer.PromoteInterval)
	reapTicker := time.NewTicker(r.cfg.Consumer.ReapInterval)
	defer promoteTicker.Stop()
	defer reapTicker.Stop()

	queueName := r.cfg.Consumer.Queue
	for {
		select {
		case <-ctx.Done():
			return
		case <-promoteTicker.C:
			n, err := r.ops.PromoteDelayed(ctx, queueName, r.cfg.Consumer.PromoteBatch)
			if err != nil {
				r.log.Warn("promote_delayed error", obs.Err(err))
				continue
			}
			if n > 0 {
				r.log.Debug("promoted delayed jobs", obs.String("queue", queueName), obs.Int("count", int(n)))
			}
		case <-reapTicker.C:
			n, err := r.ops.ReapExpired(ctx, queueName, r.cfg.Consumer.ReapBatch)
			if err != nil {
				r.log.Warn("reap_expired error", obs.Err(err))
				continue
			}
			if n > 0 {
				obs.JobsReaped.Add(float64(n))
				r.log.Warn("reaped expired leases", obs.String("queue", queueName), obs.Int("count", int(n)))
			}
		}
	}
}
