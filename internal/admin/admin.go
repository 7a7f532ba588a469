// Copyright 2025 James Ross

// Package admin implements the read-only Monitoring API and the mutating
// Admin API: operational views and operator actions layered over
// queue.Ops, distinct from the application-facing Publisher/Consumer.
package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/quaydock/jobqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

const (
	maxGroupsReady = 2000
	maxSample      = 500
)

// Monitor is the pure-observer half of this package: it reads side keys
// directly and never mutates state.
type Monitor struct {
	rdb *redis.Client
}

func NewMonitor(rdb *redis.Client) *Monitor {
	return &Monitor{rdb: rdb}
}

// Counts reports the length of each lane for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (m *Monitor) Counts(ctx context.Context, queueName string) (Counts, error) {
	var c Counts
	var err error
	if c.Waiting, err = m.rdb.LLen(ctx, queue.WaitKey(queueName)).Result(); err != nil {
		return c, err
	}
	if c.Delayed, err = m.rdb.ZCard(ctx, queue.DelayedKey(queueName)).Result(); err != nil {
		return c, err
	}
	if c.Active, err = m.rdb.ZCard(ctx, queue.ActiveKey(queueName)).Result(); err != nil {
		return c, err
	}
	if c.Completed, err = m.rdb.LLen(ctx, queue.CompletedKey(queueName)).Result(); err != nil {
		return c, err
	}
	if c.Failed, err = m.rdb.LLen(ctx, queue.FailedKey(queueName)).Result(); err != nil {
		return c, err
	}
	return c, nil
}

// GroupsReady lists group ids ordered by readiness score, capped at 2000.
func (m *Monitor) GroupsReady(ctx context.Context, queueName string, limit int64) ([]string, error) {
	if limit <= 0 || limit > maxGroupsReady {
		limit = maxGroupsReady
	}
	return m.rdb.ZRange(ctx, queue.GroupsReadyKey(queueName), 0, limit-1).Result()
}

// GroupStatus reports one group's inflight count and configured limit.
type GroupStatus struct {
	GID      string `json:"gid"`
	Inflight int64  `json:"inflight"`
	Limit    int64  `json:"limit"`
}

func (m *Monitor) GroupStatus(ctx context.Context, queueName, gid string) (GroupStatus, error) {
	gs := GroupStatus{GID: gid}
	inflight, err := m.rdb.Get(ctx, queue.GroupInflightKey(queueName, gid)).Result()
	if err != nil && err != redis.Nil {
		return gs, err
	}
	if inflight != "" {
		gs.Inflight, _ = strconv.ParseInt(inflight, 10, 64)
	}
	limit, err := m.rdb.Get(ctx, queue.GroupLimitKey(queueName, gid)).Result()
	if err != nil && err != redis.Nil {
		return gs, err
	}
	if limit != "" {
		gs.Limit, _ = strconv.ParseInt(limit, 10, 64)
	}
	return gs, nil
}

// SampleActive returns up to limit active job ids, capped at 500.
func (m *Monitor) SampleActive(ctx context.Context, queueName string, limit int64) ([]string, error) {
	limit = clampSample(limit)
	return m.rdb.ZRange(ctx, queue.ActiveKey(queueName), 0, limit-1).Result()
}

// SampleDelayed returns up to limit delayed job ids, earliest-due first.
func (m *Monitor) SampleDelayed(ctx context.Context, queueName string, limit int64) ([]string, error) {
	limit = clampSample(limit)
	return m.rdb.ZRange(ctx, queue.DelayedKey(queueName), 0, limit-1).Result()
}

// SampleFailed returns up to limit failed job ids, most recent first.
func (m *Monitor) SampleFailed(ctx context.Context, queueName string, limit int64) ([]string, error) {
	limit = clampSample(limit)
	return m.rdb.LRange(ctx, queue.FailedKey(queueName), 0, limit-1).Result()
}

func clampSample(limit int64) int64 {
	if limit <= 0 || limit > maxSample {
		return maxSample
	}
	return limit
}

// GetJob returns the full job record, or (nil, nil) if no such job exists.
func (m *Monitor) GetJob(ctx context.Context, queueName, jobID string) (*queue.JobRecord, error) {
	h, err := m.rdb.HGetAll(ctx, queue.JobKey(queueName, jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	rec := &queue.JobRecord{
		JobID:   jobID,
		State:   h["state"],
		Payload: h["payload"],
		GID:     h["gid"],
	}
	rec.Attempt, _ = strconv.Atoi(h["attempt"])
	rec.MaxAttempts, _ = strconv.Atoi(h["max_attempts"])
	rec.TimeoutMS, _ = strconv.ParseInt(h["timeout_ms"], 10, 64)
	rec.BackoffMS, _ = strconv.ParseInt(h["backoff_ms"], 10, 64)
	rec.DueMS, _ = strconv.ParseInt(h["due_ms"], 10, 64)
	rec.LockUntilMS, _ = strconv.ParseInt(h["lock_until_ms"], 10, 64)
	rec.LeaseToken = h["lease_token"]
	rec.LastError = h["last_error"]
	rec.LastErrorMS, _ = strconv.ParseInt(h["last_error_ms"], 10, 64)
	rec.CreatedMS, _ = strconv.ParseInt(h["created_ms"], 10, 64)
	rec.UpdatedMS, _ = strconv.ParseInt(h["updated_ms"], 10, 64)
	return rec, nil
}

// Admin is the operator-facing half of §6: every mutating action a human
// or a script might take against a queue, forwarded onto queue.Ops. It
// exists as a named boundary distinct from the application Publisher so
// callers can be granted one without the other.
type Admin struct {
	ops *queue.Ops
}

func NewAdmin(ops *queue.Ops) *Admin {
	return &Admin{ops: ops}
}

func (a *Admin) Pause(ctx context.Context, queueName string) error { return a.ops.Pause(ctx, queueName) }
func (a *Admin) Resume(ctx context.Context, queueName string) (bool, error) {
	return a.ops.Resume(ctx, queueName)
}
func (a *Admin) IsPaused(ctx context.Context, queueName string) (bool, error) {
	return a.ops.IsPaused(ctx, queueName)
}
func (a *Admin) RetryFailed(ctx context.Context, queueName, jobID string) error {
	return a.ops.RetryFailed(ctx, queueName, jobID)
}
func (a *Admin) RetryFailedBatch(ctx context.Context, queueName string, jobIDs []string) ([]queue.BatchItemResult, error) {
	return a.ops.RetryFailedBatch(ctx, queueName, jobIDs)
}
func (a *Admin) RemoveJob(ctx context.Context, queueName, jobID string, lane queue.Lane) error {
	return a.ops.RemoveJob(ctx, queueName, jobID, lane)
}
func (a *Admin) RemoveJobsBatch(ctx context.Context, queueName string, lane queue.Lane, jobIDs []string) ([]queue.BatchItemResult, error) {
	return a.ops.RemoveJobsBatch(ctx, queueName, lane, jobIDs)
}
func (a *Admin) ChildsInit(ctx context.Context, key string, expected int64) error {
	return a.ops.ChildsInit(ctx, key, expected)
}
func (a *Admin) ChildAck(ctx context.Context, key, childID string) (int64, error) {
	return a.ops.ChildAck(ctx, key, childID)
}

// PurgeQueue deletes one queue's keys: all five lanes, the paused flag,
// the groups-ready set, and every job record currently reachable from
// wait/delayed/active/completed/failed. Per-group inflight and limit
// counters are not deleted. Intended for test and staging cleanup, not
// production use.
func (a *Admin) PurgeQueue(ctx context.Context, rdb *redis.Client, queueName string) (int64, error) {
	jobIDs := map[string]struct{}{}
	collect := func(ids []string) {
		for _, id := range ids {
			jobIDs[id] = struct{}{}
		}
	}
	wait, err := rdb.LRange(ctx, queue.WaitKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	collect(wait)
	delayed, err := rdb.ZRange(ctx, queue.DelayedKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	collect(delayed)
	active, err := rdb.ZRange(ctx, queue.ActiveKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	collect(active)
	completed, err := rdb.LRange(ctx, queue.CompletedKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	collect(completed)
	failed, err := rdb.LRange(ctx, queue.FailedKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	collect(failed)

	keys := []string{
		queue.WaitKey(queueName), queue.DelayedKey(queueName), queue.ActiveKey(queueName),
		queue.CompletedKey(queueName), queue.FailedKey(queueName), queue.PausedKey(queueName),
		queue.GroupsReadyKey(queueName),
	}
	for id := range jobIDs {
		keys = append(keys, queue.JobKey(queueName, id))
	}
	n, err := rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("admin: purge queue %q: %w", queueName, err)
	}
	return n, nil
}
