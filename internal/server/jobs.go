package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"runbox/internal/fault"
	"runbox/internal/runner"
	"runbox/internal/store"
	"runbox/pkg/api"
)

// CreateJob handles POST /api/jobs.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}

	var requestedRunner runner.Runner
	var isolation runner.Isolation
	if req.Runner != nil {
		var err error
		if requestedRunner, err = runner.Parse(req.Runner.Requested); err != nil {
			h.respondError(w, r, err)
			return
		}
		if isolation, err = runner.ParseIsolation(req.Runner.Isolation); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	job, err := h.scheduler.Submit(r.Context(), req.Command, fromAPIPolicy(req.Policy), requestedRunner, isolation)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusCreated, api.CreateJobResponse{
		Job:           toAPIJobSummary(job),
		RequestID:     requestID,
		ServerTimeUTC: now,
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusOK, api.GetJobResponse{
		Job:           toAPIJob(job),
		RequestID:     requestID,
		ServerTimeUTC: now,
	})
}

// ListJobs handles GET /api/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := store.ListFilter{
		Query:  query.Get("q"),
		Cursor: query.Get("cursor"),
		Limit:  50,
	}

	if s := query.Get("status"); s != "" {
		switch store.Status(s) {
		case store.StatusQueued, store.StatusRunning, store.StatusSucceeded, store.StatusFailed:
			filter.Status = store.Status(s)
		default:
			h.respondError(w, r, fault.Newf(fault.KindValidation, "unknown status %q", s).WithDetail("field", "status"))
			return
		}
	}
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 200 {
			h.respondError(w, r, fault.New(fault.KindValidation, "limit must be between 1 and 200").WithDetail("field", "limit"))
			return
		}
		filter.Limit = parsed
	}

	items, nextCursor, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]api.JobSummary, 0, len(items))
	for _, item := range items {
		summary := api.JobSummary{
			JobID:     item.ID,
			Status:    string(item.Status),
			Command:   item.Command,
			CreatedAt: store.FormatTime(item.CreatedAt),
		}
		if item.RunnerSelected != "" {
			summary.Runner = &api.Runner{Selected: item.RunnerSelected}
		}
		out = append(out, summary)
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusOK, api.ListJobsResponse{
		Items:         out,
		NextCursor:    nextCursor,
		RequestID:     requestID,
		ServerTimeUTC: now,
	})
}

// RetryJob handles POST /api/jobs/{id}/retry.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	attempt, err := h.scheduler.Retry(r.Context(), jobID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusAccepted, api.RetryJobResponse{
		JobID:         jobID,
		AttemptID:     attempt.ID,
		RequestID:     requestID,
		ServerTimeUTC: now,
	})
}
