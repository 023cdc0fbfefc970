// Package logstream buffers a running attempt's output lines and fans
// them out to live subscribers. Lines are held in memory while the
// attempt runs and flushed to the store in one batch at terminal state.
package logstream

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"runbox/internal/fault"
	"runbox/internal/store"
)

// subscriberBuffer bounds how far a live consumer may lag before it is
// dropped.
const subscriberBuffer = 256

// Sink receives the full line sequence when an attempt terminates.
type Sink interface {
	AppendLogLines(ctx context.Context, attemptID string, lines []store.LogLine) error
}

// Streamer manages one in-memory stream per running attempt.
// Single producer per attempt, any number of consumers.
type Streamer struct {
	mu      sync.Mutex
	streams map[string]*stream
	sink    Sink
	log     *slog.Logger
}

type stream struct {
	lines  []store.LogLine
	subs   map[chan store.LogLine]struct{}
	closed bool
}

// New creates a streamer that flushes terminated attempts to sink.
func New(sink Sink, log *slog.Logger) *Streamer {
	return &Streamer{
		streams: make(map[string]*stream),
		sink:    sink,
		log:     log,
	}
}

// Open registers a stream for an attempt about to run.
func (s *Streamer) Open(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[attemptID]; !ok {
		s.streams[attemptID] = &stream{subs: make(map[chan store.LogLine]struct{})}
	}
}

// Append records one output line and broadcasts it to subscribers.
// Appends after CloseAttempt are dropped.
func (s *Streamer) Append(attemptID, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[attemptID]
	if !ok || st.closed {
		return
	}

	line := store.LogLine{
		AttemptID: attemptID,
		Seq:       int64(len(st.lines)) + 1,
		TS:        store.UTCNow(),
		Level:     level,
		Message:   message,
	}
	st.lines = append(st.lines, line)

	for ch := range st.subs {
		select {
		case ch <- line:
		default:
			// Lagging consumer; cut it loose rather than block the producer.
			delete(st.subs, ch)
			close(ch)
		}
	}
}

// Tail returns the last n buffered lines. An attempt with no output yet
// is a logs_unavailable fault, distinct from an empty success.
func (s *Streamer) Tail(attemptID string, n int) ([]store.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[attemptID]
	if !ok || len(st.lines) == 0 {
		return nil, fault.Newf(fault.KindLogsUnavailable, "no output for attempt %s yet", attemptID)
	}
	if n <= 0 || n > len(st.lines) {
		n = len(st.lines)
	}
	out := make([]store.LogLine, n)
	copy(out, st.lines[len(st.lines)-n:])
	return out, nil
}

// Lines returns buffered lines with seq > afterSeq, up to limit.
func (s *Streamer) Lines(attemptID string, afterSeq int64, limit int) ([]store.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[attemptID]
	if !ok || len(st.lines) == 0 {
		return nil, fault.Newf(fault.KindLogsUnavailable, "no output for attempt %s yet", attemptID)
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(st.lines)) {
		return nil, nil
	}
	rest := st.lines[afterSeq:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]store.LogLine, len(rest))
	copy(out, rest)
	return out, nil
}

// Active reports whether the attempt still has a live stream.
func (s *Streamer) Active(attemptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[attemptID]
	return ok
}

// Subscribe returns the lines buffered after afterSeq and a channel
// carrying subsequent lines in order. The channel closes when the
// attempt terminates or the consumer falls too far behind; cancel
// releases the subscription early.
func (s *Streamer) Subscribe(attemptID string, afterSeq int64) ([]store.LogLine, <-chan store.LogLine, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[attemptID]
	if !ok {
		return nil, nil, nil, fault.Newf(fault.KindLogsUnavailable, "no live stream for attempt %s", attemptID)
	}

	var backlog []store.LogLine
	if afterSeq < int64(len(st.lines)) {
		backlog = make([]store.LogLine, int64(len(st.lines))-afterSeq)
		copy(backlog, st.lines[afterSeq:])
	}

	ch := make(chan store.LogLine, subscriberBuffer)
	if st.closed {
		close(ch)
		return backlog, ch, func() {}, nil
	}
	st.subs[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, live := st.subs[ch]; live {
			delete(st.subs, ch)
			close(ch)
		}
	}
	return backlog, ch, cancel, nil
}

// CloseAttempt tears the stream down: subscribers are closed, the full
// sequence is flushed to the sink, and the buffer is released.
func (s *Streamer) CloseAttempt(ctx context.Context, attemptID string) error {
	s.mu.Lock()
	st, ok := s.streams[attemptID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	st.closed = true
	for ch := range st.subs {
		delete(st.subs, ch)
		close(ch)
	}
	lines := st.lines
	delete(s.streams, attemptID)
	s.mu.Unlock()

	if len(lines) == 0 {
		return nil
	}
	if err := s.sink.AppendLogLines(ctx, attemptID, lines); err != nil {
		s.log.Error("failed to flush attempt logs", "attempt_id", attemptID, "error", err)
		return err
	}
	return nil
}

// Writer returns an io.Writer that splits its input into lines and
// appends each with the given level. Close flushes a trailing partial
// line.
func (s *Streamer) Writer(attemptID, level string) io.WriteCloser {
	return &lineWriter{streamer: s, attemptID: attemptID, level: level}
}

type lineWriter struct {
	mu        sync.Mutex
	streamer  *Streamer
	attemptID string
	level     string
	buf       strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			w.streamer.Append(w.attemptID, w.level, w.buf.String())
			w.buf.Reset()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.streamer.Append(w.attemptID, w.level, w.buf.String())
		w.buf.Reset()
	}
	return nil
}
