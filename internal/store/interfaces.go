package store

import (
	"context"
	"database/sql"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the single source of truth for jobs, attempts, artifact
// manifests and persisted log lines. Every mutation is atomic with
// respect to a single job id.
type Store interface {
	// CreateJob inserts a new job in status queued.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a job with its attempts and artifact manifest,
	// or a not_found fault for an unknown id.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs returns one page of summaries plus the cursor for the
	// next page ("" when exhausted). Keyset pagination over
	// (created_at, job_id) descending: a cursor always resumes
	// strictly after the last returned item, even under concurrent
	// inserts.
	ListJobs(ctx context.Context, f ListFilter) ([]JobSummary, string, error)

	// RecordAdmission stores the effective policy and runner decision
	// made at admission time.
	RecordAdmission(ctx context.Context, jobID string, policy Policy, runner RunnerDecision) error

	// MarkJobFailed moves a job straight to failed with a reason,
	// without an attempt. Used for policy denials and runner
	// selection exhaustion.
	MarkJobFailed(ctx context.Context, jobID, reason string) error

	// AppendAttempt adds a new queued attempt. It fails if the job
	// already has a non-terminal attempt.
	AppendAttempt(ctx context.Context, attempt *Attempt) error

	// UpdateAttempt applies a patch to an attempt and, in the same
	// transaction, derives the job's status (and completed_at on
	// terminal transitions). Illegal transitions are rejected.
	UpdateAttempt(ctx context.Context, jobID, attemptID string, patch AttemptPatch) error

	// AppendArtifacts records a manifest batch all-or-nothing.
	AppendArtifacts(ctx context.Context, jobID string, artifacts []Artifact) error

	// AppendLogLines persists an attempt's log lines append-only.
	AppendLogLines(ctx context.Context, attemptID string, lines []LogLine) error

	// ListLogLines returns persisted lines with seq > afterSeq in
	// ascending seq order.
	ListLogLines(ctx context.Context, attemptID string, afterSeq int64, limit int) ([]LogLine, error)

	// CountActive returns the number of jobs in a non-terminal state.
	CountActive(ctx context.Context) (int64, error)

	// Ping verifies the database connection.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
