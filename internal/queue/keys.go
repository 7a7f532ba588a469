package queue

import "strings"

// Base returns the routing-tagged base key for a queue name, e.g. "orders"
// becomes "{orders}". If the caller already wrapped the name in braces it is
// returned unchanged. Wrapping in "{...}" pins every key derived from it to
// the same hash slot so a single Lua script can touch all of them under a
// clustered store.
func Base(queueName string) string {
	if strings.Contains(queueName, "{") && strings.Contains(queueName, "}") {
		return queueName
	}
	return "{" + queueName + "}"
}

// Anchor returns the single key every atomic script declares as its KEYS[1]
// argument; every other key it touches is derived by string concatenation
// inside the script body.
func Anchor(queueName string) string {
	return Base(queueName) + ":meta"
}

const (
	suffixWait         = ":wait"
	suffixDelayed      = ":delayed"
	suffixActive       = ":active"
	suffixCompleted    = ":completed"
	suffixFailed       = ":failed"
	suffixPaused       = ":paused"
	suffixJobPrefix    = ":job:"
	suffixGroupPrefix  = ":g:"
	suffixGroupReady   = ":groups:ready"
	groupInflightField = ":inflight"
	groupLimitField    = ":limit"
)

// WaitKey, DelayedKey, etc. are exposed for monitoring code that reads side
// keys directly rather than through a script.
func WaitKey(queueName string) string      { return Base(queueName) + suffixWait }
func DelayedKey(queueName string) string   { return Base(queueName) + suffixDelayed }
func ActiveKey(queueName string) string    { return Base(queueName) + suffixActive }
func CompletedKey(queueName string) string { return Base(queueName) + suffixCompleted }
func FailedKey(queueName string) string    { return Base(queueName) + suffixFailed }
func PausedKey(queueName string) string    { return Base(queueName) + suffixPaused }
func GroupsReadyKey(queueName string) string {
	return Base(queueName) + suffixGroupReady
}

func JobKey(queueName, jobID string) string {
	return Base(queueName) + suffixJobPrefix + jobID
}

func GroupInflightKey(queueName, gid string) string {
	return Base(queueName) + suffixGroupPrefix + gid + groupInflightField
}

func GroupLimitKey(queueName, gid string) string {
	return Base(queueName) + suffixGroupPrefix + gid + groupLimitField
}

// ChildsAnchor mirrors the queue anchor but for the independent
// child-completion counter namespace: "{cc:<key>}:meta". The key must not
// itself contain brace characters (those are reserved for the routing tag).
func ChildsAnchor(key string) string {
	return "{cc:" + key + "}:meta"
}

func ChildsRemainingKey(key string) string {
	return "{cc:" + key + "}:remaining"
}

func ChildsAckedKey(key string) string {
	return "{cc:" + key + "}:acked"
}
