// Package server is the HTTP boundary: routing, request decoding, and
// the stable error envelope over the scheduler and the store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"runbox/internal/fault"
	"runbox/internal/logger"
	"runbox/internal/logstream"
	"runbox/internal/runner"
	"runbox/internal/store"
	"runbox/pkg/api"
)

// JobScheduler is the admission surface the handlers submit through.
// *scheduler.Scheduler is the production implementation.
type JobScheduler interface {
	Submit(ctx context.Context, command string, requested store.Policy, requestedRunner runner.Runner, isolation runner.Isolation) (*store.Job, error)
	Retry(ctx context.Context, jobID string) (*store.Attempt, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     store.Store
	scheduler JobScheduler
	streamer  *logstream.Streamer
	dataDir   string
	log       *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(st store.Store, sched JobScheduler, streamer *logstream.Streamer, dataDir string, log *slog.Logger) *Handlers {
	return &Handlers{
		store:     st,
		scheduler: sched,
		streamer:  streamer,
		dataDir:   dataDir,
		log:       log,
	}
}

// respondJSON writes a JSON response with the standard headers.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// statusForKind maps the error taxonomy to HTTP statuses.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindPolicyDenied:
		return http.StatusForbidden
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindNotFound, fault.KindArtifactNotFound:
		return http.StatusNotFound
	case fault.KindLogsUnavailable:
		return http.StatusConflict
	case fault.KindNoRunner:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope for a fault chain. Internal
// errors are logged with their cause and surfaced with a generic
// message.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	body := api.ErrorBody{Code: string(kind)}

	var f *fault.Fault
	if errors.As(err, &f) && kind != fault.KindInternal {
		body.Message = f.Message
		body.Details = f.Details
	} else {
		logger.FromContext(r.Context(), h.log).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		body.Code = string(fault.KindInternal)
		body.Message = "internal error"
	}

	h.respondJSON(w, statusForKind(kind), api.ErrorResponse{
		Error:         body,
		RequestID:     logger.RequestIDFromContext(r.Context()),
		ServerTimeUTC: store.FormatTime(store.UTCNow()),
	})
}

func (h *Handlers) stamp(ctx context.Context) (string, string) {
	return logger.RequestIDFromContext(ctx), store.FormatTime(store.UTCNow())
}
