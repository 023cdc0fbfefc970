package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"runbox/internal/fault"
	"runbox/internal/store"
	"runbox/pkg/api"
)

const defaultLogPageSize = 1000

// GetLogs handles GET /api/jobs/{id}/logs. While an attempt runs the
// lines come from the live stream; after terminal state they come from
// the store. With stream=1 the response is a server-sent event stream
// that follows the attempt until it terminates.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	attemptID, err := resolveAttempt(job, r.URL.Query().Get("attempt_id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var afterSeq int64
	if s := r.URL.Query().Get("after_seq"); s != "" {
		if afterSeq, err = strconv.ParseInt(s, 10, 64); err != nil || afterSeq < 0 {
			h.respondError(w, r, fault.New(fault.KindValidation, "after_seq must be a non-negative integer").WithDetail("field", "after_seq"))
			return
		}
	}
	tail := 0
	if s := r.URL.Query().Get("tail"); s != "" {
		if tail, err = strconv.Atoi(s); err != nil || tail < 1 {
			h.respondError(w, r, fault.New(fault.KindValidation, "tail must be a positive integer").WithDetail("field", "tail"))
			return
		}
	}

	if r.URL.Query().Get("stream") == "1" {
		h.streamLogs(w, r, attemptID, afterSeq)
		return
	}

	var lines []store.LogLine
	if h.streamer.Active(attemptID) {
		if tail > 0 {
			lines, err = h.streamer.Tail(attemptID, tail)
		} else {
			lines, err = h.streamer.Lines(attemptID, afterSeq, defaultLogPageSize)
		}
	} else {
		lines, err = h.persistedLines(r, attemptID, afterSeq, tail)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]api.LogLine, 0, len(lines))
	cursor := afterSeq
	for _, line := range lines {
		out = append(out, toAPILogLine(line))
		cursor = line.Seq
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusOK, api.GetLogsResponse{
		Lines:         out,
		Cursor:        strconv.FormatInt(cursor, 10),
		RequestID:     requestID,
		ServerTimeUTC: now,
	})
}

// resolveAttempt picks the attempt whose logs are requested: an
// explicit attempt_id must belong to the job, otherwise the latest
// attempt is used. A job with no attempts has no logs yet.
func resolveAttempt(job *store.Job, requested string) (string, error) {
	if requested != "" {
		for _, a := range job.Attempts {
			if a.ID == requested {
				return requested, nil
			}
		}
		return "", fault.Newf(fault.KindNotFound, "attempt %s not found for job %s", requested, job.ID)
	}
	if len(job.Attempts) == 0 {
		return "", fault.Newf(fault.KindLogsUnavailable, "job %s has no attempts yet", job.ID)
	}
	return job.Attempts[len(job.Attempts)-1].ID, nil
}

func (h *Handlers) persistedLines(r *http.Request, attemptID string, afterSeq int64, tail int) ([]store.LogLine, error) {
	limit := defaultLogPageSize
	if tail > 0 {
		afterSeq = 0
		limit = 0
	}
	lines, err := h.store.ListLogLines(r.Context(), attemptID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 && afterSeq == 0 {
		return nil, fault.Newf(fault.KindLogsUnavailable, "no output recorded for attempt %s", attemptID)
	}
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

// streamLogs serves the attempt's lines as server-sent events and
// follows the live stream until the attempt terminates.
func (h *Handlers) streamLogs(w http.ResponseWriter, r *http.Request, attemptID string, afterSeq int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, fault.New(fault.KindValidation, "streaming is not supported on this connection"))
		return
	}

	send := func(line store.LogLine) {
		payload, _ := json.Marshal(toAPILogLine(line))
		fmt.Fprintf(w, "id: %d\ndata: %s\n\n", line.Seq, payload)
	}

	if !h.streamer.Active(attemptID) {
		// Terminal attempt: replay the persisted sequence and finish.
		lines, err := h.persistedLines(r, attemptID, afterSeq, 0)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.sseHeaders(w)
		for _, line := range lines {
			send(line)
		}
		flusher.Flush()
		return
	}

	backlog, ch, cancel, err := h.streamer.Subscribe(attemptID, afterSeq)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer cancel()

	h.sseHeaders(w)
	for _, line := range backlog {
		send(line)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, open := <-ch:
			if !open {
				return
			}
			send(line)
			flusher.Flush()
		}
	}
}

func (h *Handlers) sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}
