// Copyright 2025 James Ross
package worker

import (
	"context"
	"encoding/json"

	"github.com/quaydock/jobqueue/internal/producer"
	"github.com/quaydock/jobqueue/internal/queue"
)

// JobContext is the read-only view of a reserved job handed to the
// handler, plus an Action handle for follow-up work.
type JobContext struct {
	Queue       string
	JobID       string
	Payload     interface{} // decoded JSON, or the raw string if decode failed
	PayloadRaw  string
	Attempt     int
	LockUntilMS int64
	LeaseToken  string
	GID         string

	Action *Action
}

func decodePayload(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// Action is the handler's window onto the queue: publishing follow-up
// work, pausing/resuming the queue, and driving a child-completion
// counter. It shares the consumer's store connections rather than opening
// its own.
type Action struct {
	ops *queue.Ops
	pub *producer.Publisher

	selfJobID string
}

func newAction(ops *queue.Ops, pub *producer.Publisher, selfJobID string) *Action {
	return &Action{ops: ops, pub: pub, selfJobID: selfJobID}
}

// Publish enqueues a follow-up job, e.g. a parent fanning out children.
func (a *Action) Publish(ctx context.Context, queueName, payload string, opts producer.PublishOptions) (string, error) {
	return a.pub.Publish(ctx, queueName, payload, opts)
}

// PublishJSON marshals v and publishes it.
func (a *Action) PublishJSON(ctx context.Context, queueName string, v interface{}, opts producer.PublishOptions) (string, error) {
	return a.pub.PublishJSON(ctx, queueName, v, opts)
}

func (a *Action) Pause(ctx context.Context, queueName string) error {
	return a.ops.Pause(ctx, queueName)
}

func (a *Action) Resume(ctx context.Context, queueName string) (bool, error) {
	return a.ops.Resume(ctx, queueName)
}

func (a *Action) IsPaused(ctx context.Context, queueName string) (bool, error) {
	return a.ops.IsPaused(ctx, queueName)
}

// ChildsInit (re)initializes a child-completion counter under key.
func (a *Action) ChildsInit(ctx context.Context, key string, expected int64) error {
	return a.ops.ChildsInit(ctx, key, expected)
}

// ChildAck acknowledges one child under key, defaulting childID to the
// handler's own job id when empty.
func (a *Action) ChildAck(ctx context.Context, key string, childID string) (int64, error) {
	if childID == "" {
		childID = a.selfJobID
	}
	return a.ops.ChildAck(ctx, key, childID)
}
