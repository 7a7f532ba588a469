package producer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/quaydock/jobqueue/internal/clock"
	"github.com/quaydock/jobqueue/internal/config"
	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func testSetup(t *testing.T) (*Publisher, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.Config{}
	cfg.Publisher.Queue = "jobs"
	cfg.Publisher.Defaults = config.JobDefaults{MaxAttempts: 3, Timeout: 60 * time.Second, Backoff: 5 * time.Second}
	cfg.Publisher.RateLimitKey = "rl"
	ops := queue.NewOps(rdb, queue.LoadScripts(), clock.Real{})
	log, _ := zap.NewDevelopment()
	p := New(&cfg, ops, rdb, log)
	return p, rdb, func() { mr.Close() }
}

func TestPublishAssignsDefaults(t *testing.T) {
	p, _, cleanup := testSetup(t)
	defer cleanup()

	id, err := p.Publish(context.Background(), "jobs", `{"hello":"world"}`, PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected non-empty job id")
	}
}

func TestPublishJSON(t *testing.T) {
	p, _, cleanup := testSetup(t)
	defer cleanup()

	id, err := p.PublishJSON(context.Background(), "jobs", map[string]string{"hello": "world"}, PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected non-empty job id")
	}
}

func TestPublishHonorsExplicitJobID(t *testing.T) {
	p, _, cleanup := testSetup(t)
	defer cleanup()

	id, err := p.Publish(context.Background(), "jobs", "payload", PublishOptions{JobID: "fixed-id"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected fixed-id, got %s", id)
	}
}

func TestBulkRateLimit(t *testing.T) {
	p, _, cleanup := testSetup(t)
	defer cleanup()
	p.cfg.Publisher.RatePerSec = 1

	log, _ := zap.NewDevelopment()
	b := NewBulk(p, p.cfg, log)

	if err := b.rateLimit(context.Background()); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := b.rateLimit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("expected limiter to sleep when exceeded")
	}
}
