// Copyright 2025 James Ross
package admin

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/quaydock/jobqueue/internal/clock"
	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

func testOps(t *testing.T) (*queue.Ops, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ops := queue.NewOps(rdb, queue.LoadScripts(), clock.NewFixed(1_000_000))
	return ops, rdb, func() { mr.Close() }
}

func TestMonitorCounts(t *testing.T) {
	ops, rdb, cleanup := testOps(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := ops.Enqueue(ctx, "jobs", "job-1", "p", 3, 30000, 1000, 0, "", 0); err != nil {
		t.Fatal(err)
	}

	mon := NewMonitor(rdb)
	counts, err := mon.Counts(ctx, "jobs")
	if err != nil {
		t.Fatal(err)
	}
	if counts.Waiting != 1 {
		t.Fatalf("expected 1 waiting job, got %d", counts.Waiting)
	}
}

func TestMonitorGetJob(t *testing.T) {
	ops, rdb, cleanup := testOps(t)
	defer cleanup()
	ctx := context.Background()

	jobID, err := ops.Enqueue(ctx, "jobs", "job-1", `{"x":1}`, 3, 30000, 1000, 0, "g1", 2)
	if err != nil {
		t.Fatal(err)
	}

	mon := NewMonitor(rdb)
	rec, err := mon.GetJob(ctx, "jobs", jobID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected a job record")
	}
	if rec.Payload != `{"x":1}` || rec.GID != "g1" || rec.MaxAttempts != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	missing, err := mon.GetJob(ctx, "jobs", "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing job, got %+v", missing)
	}
}

func TestAdminPauseResumeRoundTrip(t *testing.T) {
	ops, rdb, cleanup := testOps(t)
	defer cleanup()
	ctx := context.Background()
	_ = rdb

	ad := NewAdmin(ops)
	if err := ad.Pause(ctx, "jobs"); err != nil {
		t.Fatal(err)
	}
	paused, err := ad.IsPaused(ctx, "jobs")
	if err != nil || !paused {
		t.Fatalf("expected paused=true, got %v err=%v", paused, err)
	}
	resumed, err := ad.Resume(ctx, "jobs")
	if err != nil || !resumed {
		t.Fatalf("expected resume to report true, got %v err=%v", resumed, err)
	}
}

func TestAdminPurgeQueue(t *testing.T) {
	ops, rdb, cleanup := testOps(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := ops.Enqueue(ctx, "jobs", "job-1", "p1", 3, 30000, 1000, 0, "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := ops.Enqueue(ctx, "jobs", "job-2", "p2", 3, 30000, 1000, 0, "", 0); err != nil {
		t.Fatal(err)
	}

	ad := NewAdmin(ops)
	if _, err := ad.PurgeQueue(ctx, rdb, "jobs"); err != nil {
		t.Fatal(err)
	}

	n, err := rdb.LLen(ctx, queue.WaitKey("jobs")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected wait lane empty after purge, got %d", n)
	}
	exists, err := rdb.Exists(ctx, queue.JobKey("jobs", "job-1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if exists != 0 {
		t.Fatalf("expected job record deleted after purge")
	}
}
