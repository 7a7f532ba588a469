// Copyright 2025 James Ross
package producer

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/ids"
	"github.com/quaydock/jobqueue/internal/obs"
	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PublishOptions carries the optional parameters of publish/publish_json. A
// zero value means "use the publisher's configured defaults".
type PublishOptions struct {
	JobID       string
	MaxAttempts int
	TimeoutMS   int64
	BackoffMS   int64
	DueMS       int64
	GID         string
	GroupLimit  int64
}

// Publisher is the application-facing enqueue façade, layered over
// queue.Ops the way a priority-queue producer layers a raw LPUSH over a
// queue name.
type Publisher struct {
	cfg *config.Config
	ops *queue.Ops
	rdb *redis.Client
	log *zap.Logger
}

func New(cfg *config.Config, ops *queue.Ops, rdb *redis.Client, log *zap.Logger) *Publisher {
	return &Publisher{cfg: cfg, ops: ops, rdb: rdb, log: log}
}

func (p *Publisher) withDefaults(opts PublishOptions) PublishOptions {
	d := p.cfg.Publisher.Defaults
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = d.MaxAttempts
	}
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = d.Timeout.Milliseconds()
	}
	if opts.BackoffMS <= 0 {
		opts.BackoffMS = d.Backoff.Milliseconds()
	}
	return opts
}

// Publish enqueues a raw string payload, returning the job id (its own, or
// the id of the existing job when a repeated call with the same JobID hits
// an already-terminal or already-active record).
func (p *Publisher) Publish(ctx context.Context, queueName, payload string, opts PublishOptions) (string, error) {
	opts = p.withDefaults(opts)
	jobID := opts.JobID
	if jobID == "" {
		jobID = ids.NewJobID()
	}

	ctx, span := obs.StartEnqueueSpan(ctx, queueName, opts.GID)
	defer span.End()

	id, err := p.ops.Enqueue(ctx, queueName, jobID, payload,
		opts.MaxAttempts, opts.TimeoutMS, opts.BackoffMS, opts.DueMS, opts.GID, opts.GroupLimit)
	if err != nil {
		obs.RecordError(ctx, err)
		return "", err
	}
	obs.SetSpanSuccess(ctx)
	obs.JobsEnqueued.Inc()
	p.log.Debug("published job", zap.String("queue", queueName), zap.String("job_id", id))
	return id, nil
}

// PublishJSON marshals v and publishes it, mirroring Publish.
func (p *Publisher) PublishJSON(ctx context.Context, queueName string, v interface{}, opts PublishOptions) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("producer: marshal payload: %w", err)
	}
	return p.Publish(ctx, queueName, string(b), opts)
}

// BulkPublisher drives the directory-scan publish mode: every file under a
// root directory matching the include globs (and none of the exclude
// globs) is published as a job whose payload carries its path and size.
type BulkPublisher struct {
	pub *Publisher
	cfg *config.Config
	log *zap.Logger
}

func NewBulk(pub *Publisher, cfg *config.Config, log *zap.Logger) *BulkPublisher {
	return &BulkPublisher{pub: pub, cfg: cfg, log: log}
}

type filePayload struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Run walks Publisher.cfg.Publisher.ScanDir and publishes one job per
// matching file, rate-limited by rate_per_sec (rate_burst is not read).
func (b *BulkPublisher) Run(ctx context.Context) error {
	root := b.cfg.Publisher.ScanDir
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	include := b.cfg.Publisher.IncludeGlobs
	exclude := b.cfg.Publisher.ExcludeGlobs
	queueName := b.cfg.Publisher.Queue

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		abs, err2 := filepath.Abs(path)
		if err2 != nil {
			return nil
		}
		if !strings.HasPrefix(abs, absRoot+string(os.PathSeparator)) && abs != absRoot {
			return nil
		}
		rel, _ := filepath.Rel(root, path)

		incMatch := len(include) == 0
		for _, g := range include {
			if ok, _ := doublestar.PathMatch(g, rel); ok {
				incMatch = true
				break
			}
		}
		if !incMatch {
			return nil
		}
		for _, g := range exclude {
			if ok, _ := doublestar.PathMatch(g, rel); ok {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.rateLimit(ctx); err != nil {
			return err
		}

		fi, err := os.Stat(path)
		if err != nil {
			return nil
		}
		jobID := ids.NewJobID()
		_, pubErr := b.pub.PublishJSON(ctx, queueName, filePayload{Path: abs, Size: fi.Size()}, PublishOptions{JobID: jobID})
		if pubErr != nil {
			return pubErr
		}
		b.log.Info("published file", zap.String("path", abs), zap.String("job_id", jobID))
		return nil
	})
}

func (b *BulkPublisher) rateLimit(ctx context.Context) error {
	rate := b.cfg.Publisher.RatePerSec
	if rate <= 0 {
		return nil
	}
	key := b.cfg.Publisher.RateLimitKey
	n, err := b.pub.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		_ = b.pub.rdb.Expire(ctx, key, time.Second).Err()
	}
	if float64(n) > rate {
		ttl, err := b.pub.rdb.TTL(ctx, key).Result()
		if err == nil && ttl > 0 {
			jitter := time.Duration(randUint32()%50) * time.Millisecond
			select {
			case <-ctx.Done():
			case <-time.After(ttl + jitter):
			}
		} else {
			time.Sleep(200 * time.Millisecond)
		}
	}
	return nil
}

func randUint32() uint32 {
	var bts [4]byte
	_, _ = rand.Read(bts[:])
	return uint32(bts[0])<<24 | uint32(bts[1])<<16 | uint32(bts[2])<<8 | uint32(bts[3])
}
