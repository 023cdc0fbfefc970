// Package store contains the persistence layer for runbox.
package store

import "time"

// Status is the shared state machine for jobs and attempts.
// Transitions are strictly forward: queued -> running -> {succeeded, failed}.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether moving from one status to another is a
// legal forward edge. Self-transitions are not edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// Limits are the resource ceilings enforced on a worker.
// Zero values mean "no explicit request"; the policy layer fills in
// defaults and clamps against system caps.
type Limits struct {
	TimeLimitSeconds int `json:"time_limit_seconds,omitempty"`
	CPULimitMillis   int `json:"cpu_limit,omitempty"`
	RAMLimitMB       int `json:"ram_limit_mb,omitempty"`
	PIDLimit         int `json:"pid_limit,omitempty"`
}

// Policy is the effective execution policy recorded on a job.
type Policy struct {
	AllowlistDomains []string `json:"allowlist_domains,omitempty"`
	Limits           Limits   `json:"limits"`
}

// RunnerDecision records the runner request and the selection outcome.
type RunnerDecision struct {
	Requested       string
	Selected        string
	SelectionReason string
}

// Job is one user-submitted command plus its policy and full history.
type Job struct {
	ID           string
	Command      string
	Status       Status
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ErrorSummary *string
	Policy       Policy
	Runner       RunnerDecision
	Attempts     []Attempt
	Artifacts    []Artifact
}

// JobSummary is the compact job shape returned by listings.
type JobSummary struct {
	ID             string
	Command        string
	Status         Status
	CreatedAt      time.Time
	RunnerSelected string
}

// Attempt is one execution try of a job. Records are append-only and
// immutable once terminal; seq increases monotonically per job.
type Attempt struct {
	ID           string
	JobID        string
	Seq          int
	Status       Status
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ExitCode     *int
	ErrorSummary *string
	CreatedAt    time.Time
}

// AttemptPatch is the mutable subset applied through UpdateAttempt.
// Nil pointer fields are left untouched.
type AttemptPatch struct {
	Status       Status
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ExitCode     *int
	ErrorSummary *string
}

// Artifact is one manifest entry, immutable once written.
type Artifact struct {
	JobID       string
	Name        string
	Path        string
	SHA256      string
	SizeBytes   int64
	ContentType string
	CreatedAt   time.Time
}

// LogLine is one captured worker output line.
type LogLine struct {
	AttemptID string
	Seq       int64
	TS        time.Time
	Level     string
	Message   string
}

// ListFilter narrows and paginates ListJobs.
type ListFilter struct {
	Status Status // empty matches all
	Query  string // substring match on command
	Cursor string // opaque, from a previous page
	Limit  int
}

// UTCNow returns the current time in UTC at millisecond precision,
// the resolution every persisted timestamp uses.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatTime renders a timestamp the way the API exposes it:
// UTC with millisecond precision and a Z suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
