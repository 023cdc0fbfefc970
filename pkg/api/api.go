// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the orchestrator service.
package api

// PolicyLimits are the resource ceilings requested for a job.
type PolicyLimits struct {
	TimeLimitSeconds int `json:"time_limit_seconds,omitempty"`
	CPULimitMillis   int `json:"cpu_limit,omitempty"`
	RAMLimitMB       int `json:"ram_limit_mb,omitempty"`
	PIDLimit         int `json:"pid_limit,omitempty"`
}

// Policy is the execution policy attached to a job request.
type Policy struct {
	AllowlistDomains []string      `json:"allowlist_domains,omitempty"`
	Limits           *PolicyLimits `json:"limits,omitempty"`
}

// RunnerRequest carries the caller's optional runner preference and
// isolation requirement (none, moderate, kernel).
type RunnerRequest struct {
	Requested string `json:"requested,omitempty"`
	Isolation string `json:"isolation,omitempty"`
}

// CreateJobRequest is the request body for submitting a new job.
type CreateJobRequest struct {
	Command string         `json:"command"`
	Policy  *Policy        `json:"policy,omitempty"`
	Runner  *RunnerRequest `json:"runner,omitempty"`
}

// Runner describes the runner decision recorded on a job.
type Runner struct {
	Requested       string `json:"requested,omitempty"`
	Selected        string `json:"selected,omitempty"`
	SelectionReason string `json:"selection_reason,omitempty"`
}

// Attempt is one execution try of a job.
type Attempt struct {
	AttemptID    string  `json:"attempt_id"`
	Status       string  `json:"status"`
	StartedAt    *string `json:"started_at,omitempty"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	ErrorSummary *string `json:"error_summary,omitempty"`
}

// Artifact is one manifest entry for a file produced by a job.
type Artifact struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
	CreatedAt   string `json:"created_at"`
}

// JobSummary is the compact job representation used in listings.
type JobSummary struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Command   string  `json:"command,omitempty"`
	CreatedAt string  `json:"created_at"`
	Runner    *Runner `json:"runner,omitempty"`
}

// Job is the full job representation.
type Job struct {
	JobID             string     `json:"job_id"`
	Command           string     `json:"command"`
	Status            string     `json:"status"`
	CreatedAt         string     `json:"created_at"`
	CompletedAt       *string    `json:"completed_at,omitempty"`
	Policy            *Policy    `json:"policy,omitempty"`
	Runner            *Runner    `json:"runner,omitempty"`
	Attempts          []Attempt  `json:"attempts"`
	ArtifactsManifest []Artifact `json:"artifacts_manifest"`
}

// CreateJobResponse is the response body after submitting a job.
type CreateJobResponse struct {
	Job           JobSummary `json:"job"`
	RequestID     string     `json:"request_id"`
	ServerTimeUTC string     `json:"server_time_utc"`
}

// GetJobResponse is the response body for a single job lookup.
type GetJobResponse struct {
	Job           Job    `json:"job"`
	RequestID     string `json:"request_id"`
	ServerTimeUTC string `json:"server_time_utc"`
}

// ListJobsResponse is one page of jobs plus the cursor for the next.
type ListJobsResponse struct {
	Items         []JobSummary `json:"items"`
	NextCursor    string       `json:"next_cursor,omitempty"`
	RequestID     string       `json:"request_id"`
	ServerTimeUTC string       `json:"server_time_utc"`
}

// RetryJobResponse is the response body after requesting a new attempt.
type RetryJobResponse struct {
	JobID         string `json:"job_id"`
	AttemptID     string `json:"attempt_id"`
	RequestID     string `json:"request_id"`
	ServerTimeUTC string `json:"server_time_utc"`
}

// LogLine is a single captured log line.
type LogLine struct {
	TS      string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// GetLogsResponse is the response body for buffered log reads.
type GetLogsResponse struct {
	Lines         []LogLine `json:"lines"`
	Cursor        string    `json:"cursor"`
	RequestID     string    `json:"request_id"`
	ServerTimeUTC string    `json:"server_time_utc"`
}

// ListArtifactsResponse is the response body for an artifact manifest read.
type ListArtifactsResponse struct {
	ArtifactsManifest []Artifact `json:"artifacts_manifest"`
	RequestID         string     `json:"request_id"`
	ServerTimeUTC     string     `json:"server_time_utc"`
}

// HealthResponse reports service and database health.
type HealthResponse struct {
	Status        string `json:"status"`
	DB            string `json:"db"`
	ServerTimeUTC string `json:"server_time_utc"`
}

// ErrorBody is the inner error object of an error response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error         ErrorBody `json:"error"`
	RequestID     string    `json:"request_id"`
	ServerTimeUTC string    `json:"server_time_utc"`
}
