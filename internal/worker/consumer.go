// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quaydock/jobqueue/internal/breaker"
	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/obs"
	"github.com/quaydock/jobqueue/internal/producer"
	"github.com/quaydock/jobqueue/internal/queue"
	"go.uber.org/zap"
)

// Handler processes one reserved job. A normal return acks success; an
// error acks failure (retry or dead-letter, per the job's remaining
// attempts).
type Handler func(ctx context.Context, jc *JobContext) error

// Consumer binds one queue to one handler and runs the reserve/heartbeat/
// ack loop. A Consumer is a single loop; run several for concurrency.
type Consumer struct {
	cfg       *config.Config
	ops       *queue.Ops
	pub       *producer.Publisher
	log       *zap.Logger
	cb        *breaker.CircuitBreaker
	queueName string

	stop int32
}

func New(cfg *config.Config, ops *queue.Ops, pub *producer.Publisher, log *zap.Logger) *Consumer {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	return &Consumer{cfg: cfg, ops: ops, pub: pub, log: log, cb: cb, queueName: cfg.Consumer.Queue}
}

// Run executes the consumer loop until ctx is canceled or a stop signal
// drains the current job. SIGTERM always stops; the first SIGINT stops
// only if drain is enabled; a second SIGINT forces immediate exit.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var sigints int32
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGTERM {
				atomic.StoreInt32(&c.stop, 1)
				continue
			}
			n := atomic.AddInt32(&sigints, 1)
			if !c.cfg.Consumer.Drain {
				os.Exit(1)
			}
			atomic.StoreInt32(&c.stop, 1)
			if n >= 2 {
				c.log.Warn("second interrupt, exiting immediately", obs.String("queue", c.queueName))
				os.Exit(1)
			}
		}
	}()

	obs.ConsumersActive.Inc()
	defer obs.ConsumersActive.Dec()

	lastPromote := time.Now()
	lastReap := time.Now()

	for {
		if atomic.LoadInt32(&c.stop) == 1 {
			c.log.Info("stop requested, exiting consumer loop", obs.String("queue", c.queueName))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !c.cb.Allow() {
			time.Sleep(c.cfg.Consumer.BreakerPause)
			continue
		}

		if time.Since(lastPromote) >= c.cfg.Consumer.PromoteInterval {
			if _, err := c.ops.PromoteDelayed(ctx, c.queueName, c.cfg.Consumer.PromoteBatch); err != nil {
				c.log.Debug("promote_delayed error", obs.Err(err))
			}
			lastPromote = time.Now()
		}
		if time.Since(lastReap) >= c.cfg.Consumer.ReapInterval {
			n, err := c.ops.ReapExpired(ctx, c.queueName, c.cfg.Consumer.ReapBatch)
			if err != nil {
				c.log.Debug("reap_expired error", obs.Err(err))
			} else if n > 0 {
				obs.JobsReaped.Add(float64(n))
			}
			lastReap = time.Now()
		}

		if c.reserveAndDispatch(ctx, handler) {
			return nil
		}
	}
}

// reserveAndDispatch reserves at most one job and dispatches it to handler.
// If a stop is requested between a successful reserve and dispatch and
// draining is disabled, the job is left active for the reaper to recover
// instead of being handed to the handler. Returns true when Run should stop.
func (c *Consumer) reserveAndDispatch(ctx context.Context, handler Handler) bool {
	rctx, reserveSpan := obs.StartReserveSpan(ctx, c.queueName)
	outcome, res, err := c.ops.Reserve(rctx, c.queueName, c.cfg.Consumer.PromoteBatch, c.cfg.Consumer.ReserveScanLimit)
	if err != nil {
		obs.RecordError(rctx, err)
		reserveSpan.End()
		c.cb.Record(false)
		c.log.Warn("reserve error", obs.Err(err))
		time.Sleep(c.cfg.Consumer.PollInterval)
		return false
	}
	c.cb.Record(true)
	reserveSpan.End()

	switch outcome {
	case queue.ReserveEmpty:
		time.Sleep(c.cfg.Consumer.PollInterval)
		return false
	case queue.ReservePaused:
		backoffS := queue.PausedBackoffS(c.cfg.Consumer.PollInterval.Seconds())
		time.Sleep(time.Duration(backoffS * float64(time.Second)))
		return false
	}

	obs.JobsReserved.Inc()

	if atomic.LoadInt32(&c.stop) == 1 && !c.cfg.Consumer.Drain {
		c.log.Info("stop requested after reserve, leaving job for the reaper",
			obs.String("queue", c.queueName), obs.String("job_id", res.JobID))
		return true
	}

	c.processOne(ctx, handler, res)
	return false
}

func (c *Consumer) processOne(ctx context.Context, handler Handler, res *queue.Reservation) {
	jc := &JobContext{
		Queue:       c.queueName,
		JobID:       res.JobID,
		Payload:     decodePayload(res.Payload),
		PayloadRaw:  res.Payload,
		Attempt:     res.Attempt,
		LockUntilMS: res.LockUntilMS,
		LeaseToken:  res.LeaseToken,
		GID:         res.GID,
	}
	jc.Action = newAction(c.ops, c.pub, res.JobID)

	hbInterval := c.cfg.Consumer.HeartbeatInterval
	if hbInterval <= 0 {
		timeoutMS, err := c.ops.JobTimeoutMS(ctx, c.queueName, res.JobID)
		if err != nil || timeoutMS <= 0 {
			timeoutMS = res.LockUntilMS
		}
		hbInterval = time.Duration(queue.DeriveHeartbeatIntervalS(timeoutMS) * float64(time.Second))
	}

	var leaseLost int32
	hbStop := make(chan struct{})
	hbDone := make(chan struct{})
	go c.heartbeatTask(ctx, res.JobID, res.LeaseToken, hbInterval, hbStop, hbDone, &leaseLost)

	hctx, span := obs.ContextWithJobSpan(ctx, c.queueName, res.JobID, res.Attempt)
	start := time.Now()
	handlerErr := handler(hctx, jc)
	obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

	close(hbStop)
	wait := clampDuration(hbInterval*3/2, 200*time.Millisecond, 2*time.Second)
	select {
	case <-hbDone:
	case <-time.After(wait):
	}

	if atomic.LoadInt32(&leaseLost) == 1 {
		obs.LeaseLost.Inc()
		obs.RecordError(hctx, fmt.Errorf("lease lost"))
		span.End()
		c.log.Warn("lease lost, skipping ack", obs.String("job_id", res.JobID), obs.String("queue", c.queueName))
		return
	}

	if handlerErr != nil {
		obs.RecordError(hctx, handlerErr)
		span.End()
		msg := fmt.Sprintf("%T: %s", handlerErr, handlerErr.Error())
		result, ackErr := c.ops.AckFail(ctx, c.queueName, res.JobID, res.LeaseToken, msg)
		if ackErr != nil {
			if queue.IsLeaseLost(ackErr) {
				obs.LeaseLost.Inc()
				return
			}
			c.log.Error("ack_fail error", obs.Err(ackErr))
			return
		}
		switch result.Outcome {
		case queue.AckRetry:
			obs.JobsRetried.Inc()
		case queue.AckFailed:
			obs.JobsFailed.Inc()
		}
		return
	}

	obs.SetSpanSuccess(hctx)
	span.End()
	if ackErr := c.ops.AckSuccess(ctx, c.queueName, res.JobID, res.LeaseToken); ackErr != nil {
		if queue.IsLeaseLost(ackErr) {
			obs.LeaseLost.Inc()
			return
		}
		c.log.Error("ack_success error", obs.Err(ackErr))
		return
	}
	obs.JobsCompleted.Inc()
}

func (c *Consumer) heartbeatTask(ctx context.Context, jobID, leaseToken string, interval time.Duration, stop <-chan struct{}, done chan<- struct{}, leaseLost *int32) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ops.Heartbeat(ctx, c.queueName, jobID, leaseToken); err != nil {
				if queue.IsLeaseLost(err) {
					atomic.StoreInt32(leaseLost, 1)
					return
				}
				c.log.Debug("heartbeat error", obs.Err(err))
			}
		}
	}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
