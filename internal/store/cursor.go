package store

import (
	"encoding/base64"
	"strings"
	"time"

	"runbox/internal/fault"
)

// EncodeCursor builds the opaque pagination token for the last item of
// a page: urlsafe base64 of "created_at|job_id".
func EncodeCursor(createdAt time.Time, jobID string) string {
	raw := FormatTime(createdAt) + "|" + jobID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. A malformed token yields a
// validation fault so callers can surface it as bad input rather than
// an internal error.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fault.New(fault.KindValidation, "invalid cursor").WithDetail("field", "cursor")
	}
	ts, jobID, ok := strings.Cut(string(raw), "|")
	if !ok || jobID == "" {
		return time.Time{}, "", fault.New(fault.KindValidation, "invalid cursor").WithDetail("field", "cursor")
	}
	createdAt, err := time.Parse("2006-01-02T15:04:05.000Z", ts)
	if err != nil {
		return time.Time{}, "", fault.New(fault.KindValidation, "invalid cursor").WithDetail("field", "cursor")
	}
	return createdAt, jobID, nil
}
