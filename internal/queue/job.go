package queue

// JobRecord is the full set of attributes stored in a queue's per-job hash.
// It is returned by the monitoring API's GetJob; the sample_* views return
// job ids only.
type JobRecord struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	Payload     string `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	TimeoutMS   int64  `json:"timeout_ms"`
	BackoffMS   int64  `json:"backoff_ms"`
	DueMS       int64  `json:"due_ms"`
	LockUntilMS int64  `json:"lock_until_ms"`
	LeaseToken  string `json:"lease_token"`
	GID         string `json:"gid"`
	LastError   string `json:"last_error"`
	LastErrorMS int64  `json:"last_error_ms"`
	CreatedMS   int64  `json:"created_ms"`
	UpdatedMS   int64  `json:"updated_ms"`
}

// Lane names the five places a job id can live.
type Lane string

const (
	LaneWait      Lane = "wait"
	LaneDelayed   Lane = "delayed"
	LaneActive    Lane = "active"
	LaneCompleted Lane = "completed"
	LaneFailed    Lane = "failed"
)

// State names the values JobRecord.State takes across a job's lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ReserveOutcome is the first element of reserve's status tuple.
type ReserveOutcome string

const (
	ReserveEmpty  ReserveOutcome = "EMPTY"
	ReservePaused ReserveOutcome = "PAUSED"
	ReserveJobTag ReserveOutcome = "JOB"
)

// Reservation is the JOB-outcome payload of reserve.
type Reservation struct {
	JobID       string
	Payload     string
	LockUntilMS int64
	Attempt     int
	GID         string
	LeaseToken  string
}

// AckFailOutcome is the first element of ack_fail / reap_expired's per-job
// result: RETRY (rescheduled into the delayed set) or FAILED (moved to the
// failed lane).
type AckFailOutcome string

const (
	AckRetry  AckFailOutcome = "RETRY"
	AckFailed AckFailOutcome = "FAILED"
)

// AckFailResult is ack_fail's return value.
type AckFailResult struct {
	Outcome AckFailOutcome
	DueMS   int64 // meaningful only when Outcome == AckRetry
}

// BatchItemResult is one row of a batch retry/remove reply.
type BatchItemResult struct {
	JobID  string
	Status string // "OK" or "ERR"
	Reason string // set when Status == "ERR"
}
