package queue

import (
	"embed"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/*.lua
var scriptFS embed.FS

// ScriptSet is the fifteen atomic scripts that make up the state machine,
// loaded once at startup the way advanced-rate-limiting loads its token
// bucket scripts: each field is a *redis.Script, whose Run method evaluates
// by SHA and transparently falls back to EVAL (resending the source) on a
// NOSCRIPT reply, so this package tracks no SHAs by hand. No lock is taken
// around that reload; concurrent callers that hit NOSCRIPT each resend the
// source independently.
type ScriptSet struct {
	Enqueue          *redis.Script
	Reserve          *redis.Script
	Heartbeat        *redis.Script
	AckSuccess       *redis.Script
	AckFail          *redis.Script
	PromoteDelayed   *redis.Script
	ReapExpired      *redis.Script
	Pause            *redis.Script
	Resume           *redis.Script
	RetryFailed      *redis.Script
	RetryFailedBatch *redis.Script
	RemoveJob        *redis.Script
	RemoveJobsBatch  *redis.Script
	ChildsInit       *redis.Script
	ChildAck         *redis.Script
}

func mustScript(name string) *redis.Script {
	b, err := scriptFS.ReadFile("scripts/" + name)
	if err != nil {
		panic("queue: missing embedded script " + name + ": " + err.Error())
	}
	return redis.NewScript(string(b))
}

// LoadScripts parses every embedded .lua file into a redis.Script. It never
// touches the network; scripts are uploaded lazily on first Run.
func LoadScripts() *ScriptSet {
	return &ScriptSet{
		Enqueue:          mustScript("enqueue.lua"),
		Reserve:          mustScript("reserve.lua"),
		Heartbeat:        mustScript("heartbeat.lua"),
		AckSuccess:       mustScript("ack_success.lua"),
		AckFail:          mustScript("ack_fail.lua"),
		PromoteDelayed:   mustScript("promote_delayed.lua"),
		ReapExpired:      mustScript("reap_expired.lua"),
		Pause:            mustScript("pause.lua"),
		Resume:           mustScript("resume.lua"),
		RetryFailed:      mustScript("retry_failed.lua"),
		RetryFailedBatch: mustScript("retry_failed_batch.lua"),
		RemoveJob:        mustScript("remove_job.lua"),
		RemoveJobsBatch:  mustScript("remove_jobs_batch.lua"),
		ChildsInit:       mustScript("childs_init.lua"),
		ChildAck:         mustScript("child_ack.lua"),
	}
}
