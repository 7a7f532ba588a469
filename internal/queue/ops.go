// Package queue implements the atomic state-transition operations and
// keyspace layout of the job queue: the scripts in scripts/, the façade in
// this file that wraps each one, and the plain types both return.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quaydock/jobqueue/internal/clock"
)

const maxBatchSize = 100

// Ops wraps the atomic scripts behind typed Go methods: one per state
// transition. Every method resolves the routing anchor for its queue,
// supplies now_ms from clk, and turns an ERR reply into a *ScriptError.
type Ops struct {
	rdb     *redis.Client
	scripts *ScriptSet
	clk     clock.Clock
}

// NewOps builds the façade over an already-connected client and a loaded
// script set.
func NewOps(rdb *redis.Client, scripts *ScriptSet, clk clock.Clock) *Ops {
	return &Ops{rdb: rdb, scripts: scripts, clk: clk}
}

// Enqueue publishes a job, returning its id (echoing job_id when publish is
// idempotently retried against an existing terminal or active job).
func (o *Ops) Enqueue(ctx context.Context, queueName, jobID, payload string, maxAttempts int, timeoutMS, backoffMS, dueMS int64, gid string, groupLimit int64) (string, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.Enqueue.Run(ctx, o.rdb, []string{Anchor(queueName)},
		jobID, payload, maxAttempts, timeoutMS, backoffMS, now, dueMS, gid, groupLimit).Result()
	if err != nil {
		return "", err
	}
	row, err := toSlice(res)
	if err != nil {
		return "", err
	}
	return toString(row[1]), nil
}

// Reserve pops the next runnable job, or reports EMPTY/PAUSED. promoteBatch
// bounds the opportunistic delayed-set promotion; scanLimit bounds how many
// group-blocked candidates it will skip past before giving up.
func (o *Ops) Reserve(ctx context.Context, queueName string, promoteBatch, scanLimit int64) (ReserveOutcome, *Reservation, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.Reserve.Run(ctx, o.rdb, []string{Anchor(queueName)}, now, promoteBatch, scanLimit).Result()
	if err != nil {
		return "", nil, err
	}
	row, err := toSlice(res)
	if err != nil {
		return "", nil, err
	}
	outcome := ReserveOutcome(toString(row[0]))
	switch outcome {
	case ReserveEmpty, ReservePaused:
		return outcome, nil, nil
	case ReserveJobTag:
		r := &Reservation{
			JobID:       toString(row[1]),
			Payload:     toString(row[2]),
			LockUntilMS: toInt64(row[3]),
			Attempt:     int(toInt64(row[4])),
			GID:         toString(row[5]),
			LeaseToken:  toString(row[6]),
		}
		return ReserveJobTag, r, nil
	default:
		return "", nil, fmt.Errorf("queue: reserve: unexpected outcome %q", outcome)
	}
}

// Heartbeat renews a held lease, returning the new lock_until_ms.
func (o *Ops) Heartbeat(ctx context.Context, queueName, jobID, leaseToken string) (int64, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.Heartbeat.Run(ctx, o.rdb, []string{Anchor(queueName)}, jobID, now, leaseToken).Result()
	if err != nil {
		return 0, err
	}
	row, err := toSlice(res)
	if err != nil {
		return 0, err
	}
	if toString(row[0]) != "OK" {
		return 0, scriptErrFromRow("heartbeat", queueName, jobID, row)
	}
	return toInt64(row[1]), nil
}

// AckSuccess marks a reserved job completed.
func (o *Ops) AckSuccess(ctx context.Context, queueName, jobID, leaseToken string) error {
	now := o.clk.NowMS()
	res, err := o.scripts.AckSuccess.Run(ctx, o.rdb, []string{Anchor(queueName)}, jobID, now, leaseToken).Result()
	if err != nil {
		return err
	}
	row, err := toSlice(res)
	if err != nil {
		return err
	}
	if toString(row[0]) != "OK" {
		return scriptErrFromRow("ack_success", queueName, jobID, row)
	}
	return nil
}

// AckFail records a handler failure: RETRY (rescheduled into the delayed
// set) if attempts remain, FAILED otherwise.
func (o *Ops) AckFail(ctx context.Context, queueName, jobID, leaseToken, errMsg string) (AckFailResult, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.AckFail.Run(ctx, o.rdb, []string{Anchor(queueName)}, jobID, now, leaseToken, errMsg).Result()
	if err != nil {
		return AckFailResult{}, err
	}
	row, err := toSlice(res)
	if err != nil {
		return AckFailResult{}, err
	}
	switch toString(row[0]) {
	case "RETRY":
		return AckFailResult{Outcome: AckRetry, DueMS: toInt64(row[1])}, nil
	case "FAILED":
		return AckFailResult{Outcome: AckFailed}, nil
	default:
		return AckFailResult{}, scriptErrFromRow("ack_fail", queueName, jobID, row)
	}
}

// PromoteDelayed moves due delayed jobs onto the wait list, earliest-due
// first, returning the count moved.
func (o *Ops) PromoteDelayed(ctx context.Context, queueName string, maxPromote int64) (int64, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.PromoteDelayed.Run(ctx, o.rdb, []string{Anchor(queueName)}, now, maxPromote).Result()
	if err != nil {
		return 0, err
	}
	row, err := toSlice(res)
	if err != nil {
		return 0, err
	}
	return toInt64(row[1]), nil
}

// ReapExpired recovers jobs whose lease elapsed, returning the count
// reaped. This is the only mechanism that detects a crashed consumer.
func (o *Ops) ReapExpired(ctx context.Context, queueName string, maxReap int64) (int64, error) {
	now := o.clk.NowMS()
	res, err := o.scripts.ReapExpired.Run(ctx, o.rdb, []string{Anchor(queueName)}, now, maxReap).Result()
	if err != nil {
		return 0, err
	}
	row, err := toSlice(res)
	if err != nil {
		return 0, err
	}
	return toInt64(row[1]), nil
}

// Pause stops reserve from handing out new work on this queue. In-flight
// jobs are unaffected.
func (o *Ops) Pause(ctx context.Context, queueName string) error {
	_, err := o.scripts.Pause.Run(ctx, o.rdb, []string{Anchor(queueName)}).Result()
	return err
}

// Resume clears the paused flag, reporting whether it had been set.
func (o *Ops) Resume(ctx context.Context, queueName string) (bool, error) {
	res, err := o.scripts.Resume.Run(ctx, o.rdb, []string{Anchor(queueName)}).Result()
	if err != nil {
		return false, err
	}
	return toInt64(res) == 1, nil
}

// IsPaused checks the paused flag directly; it is not scripted because it
// touches a single key and needs no atomicity with anything else.
func (o *Ops) IsPaused(ctx context.Context, queueName string) (bool, error) {
	n, err := o.rdb.Exists(ctx, PausedKey(queueName)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RetryFailed moves a single failed job back onto the wait tail.
func (o *Ops) RetryFailed(ctx context.Context, queueName, jobID string) error {
	now := o.clk.NowMS()
	res, err := o.scripts.RetryFailed.Run(ctx, o.rdb, []string{Anchor(queueName)}, jobID, now).Result()
	if err != nil {
		return err
	}
	row, err := toSlice(res)
	if err != nil {
		return err
	}
	if toString(row[0]) != "OK" {
		return scriptErrFromRow("retry_failed", queueName, jobID, row)
	}
	return nil
}

// RetryFailedBatch moves up to 100 failed jobs back onto the wait tail,
// reporting a per-job OK/ERR result.
func (o *Ops) RetryFailedBatch(ctx context.Context, queueName string, jobIDs []string) ([]BatchItemResult, error) {
	if len(jobIDs) > maxBatchSize {
		return nil, fmt.Errorf("queue: retry_failed_batch: %d ids exceeds max of %d", len(jobIDs), maxBatchSize)
	}
	now := o.clk.NowMS()
	args := make([]interface{}, 0, len(jobIDs)+2)
	args = append(args, now, len(jobIDs))
	for _, id := range jobIDs {
		args = append(args, id)
	}
	res, err := o.scripts.RetryFailedBatch.Run(ctx, o.rdb, []string{Anchor(queueName)}, args...).Result()
	if err != nil {
		return nil, err
	}
	return parseBatchResults(res)
}

// RemoveJob deletes a job's record and removes it from the named lane. The
// lane must match the job's current state, else ErrWrongLane.
func (o *Ops) RemoveJob(ctx context.Context, queueName, jobID string, lane Lane) error {
	res, err := o.scripts.RemoveJob.Run(ctx, o.rdb, []string{Anchor(queueName)}, jobID, string(lane)).Result()
	if err != nil {
		return err
	}
	row, err := toSlice(res)
	if err != nil {
		return err
	}
	if toString(row[0]) != "OK" {
		return scriptErrFromRow("remove_job", queueName, jobID, row)
	}
	return nil
}

// RemoveJobsBatch removes up to 100 jobs from the named lane.
func (o *Ops) RemoveJobsBatch(ctx context.Context, queueName string, lane Lane, jobIDs []string) ([]BatchItemResult, error) {
	if len(jobIDs) > maxBatchSize {
		return nil, fmt.Errorf("queue: remove_jobs_batch: %d ids exceeds max of %d", len(jobIDs), maxBatchSize)
	}
	args := make([]interface{}, 0, len(jobIDs)+2)
	args = append(args, string(lane), len(jobIDs))
	for _, id := range jobIDs {
		args = append(args, id)
	}
	res, err := o.scripts.RemoveJobsBatch.Run(ctx, o.rdb, []string{Anchor(queueName)}, args...).Result()
	if err != nil {
		return nil, err
	}
	return parseBatchResults(res)
}

// ChildsInit (re)initializes an independent completion counter, overwriting
// any prior state under key.
func (o *Ops) ChildsInit(ctx context.Context, key string, expected int64) error {
	_, err := o.scripts.ChildsInit.Run(ctx, o.rdb, []string{ChildsAnchor(key)}, expected).Result()
	return err
}

// ChildAck idempotently acknowledges one child under key, returning the new
// remaining count, the unchanged count on a repeat ack, or -1 if the
// counter was never initialized.
func (o *Ops) ChildAck(ctx context.Context, key, childID string) (int64, error) {
	res, err := o.scripts.ChildAck.Run(ctx, o.rdb, []string{ChildsAnchor(key)}, childID).Result()
	if err != nil {
		return 0, err
	}
	return toInt64(res), nil
}

// JobTimeoutMS reads a job's configured timeout directly; it is not
// scripted since it is a single-field read with no atomicity requirement.
func (o *Ops) JobTimeoutMS(ctx context.Context, queueName, jobID string) (int64, error) {
	s, err := o.rdb.HGet(ctx, JobKey(queueName, jobID), "timeout_ms").Result()
	if err != nil {
		return 0, err
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return 0, err
	}
	return ms, nil
}

// PausedBackoffS is the sleep the consumer loop uses after a PAUSED
// reserve: ten poll intervals, floored at a quarter second so a very fast
// poll_interval doesn't turn into a busy loop against the paused flag.
func PausedBackoffS(pollIntervalS float64) float64 {
	v := pollIntervalS * 10.0
	if v < 0.25 {
		return 0.25
	}
	return v
}

// DeriveHeartbeatIntervalS computes a heartbeat cadence from a job's
// timeout when the caller didn't supply one explicitly: half the timeout,
// clamped to [1s, 10s].
func DeriveHeartbeatIntervalS(timeoutMS int64) float64 {
	s := float64(timeoutMS) / 1000.0 / 2.0
	if s < 1.0 {
		return 1.0
	}
	if s > 10.0 {
		return 10.0
	}
	return s
}

func scriptErrFromRow(op, queueName, jobID string, row []interface{}) error {
	if len(row) < 2 {
		return fmt.Errorf("queue: %s: malformed ERR reply", op)
	}
	return newScriptError(op, queueName, jobID, toString(row[1]))
}

func parseBatchResults(res interface{}) ([]BatchItemResult, error) {
	row, err := toSlice(res)
	if err != nil {
		return nil, err
	}
	if len(row)%3 != 0 {
		return nil, fmt.Errorf("queue: batch reply length %d is not a multiple of 3", len(row))
	}
	out := make([]BatchItemResult, 0, len(row)/3)
	for i := 0; i < len(row); i += 3 {
		out = append(out, BatchItemResult{
			JobID:  toString(row[i]),
			Status: toString(row[i+1]),
			Reason: toString(row[i+2]),
		})
	}
	return out, nil
}

func toSlice(v interface{}) ([]interface{}, error) {
	row, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("queue: unexpected script reply shape %T", v)
	}
	return row, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}
