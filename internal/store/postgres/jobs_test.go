package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"runbox/internal/fault"
	"runbox/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestCreateJob_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	job := &store.Job{
		ID:        store.NewJobID(),
		Command:   "echo hello",
		Status:    store.StatusQueued,
		CreatedAt: store.UTCNow(),
		Policy: store.Policy{
			Limits: store.Limits{TimeLimitSeconds: 30},
		},
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT job_id, command, status`).
		WithArgs("job_missing").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	_, err := s.GetJob(context.Background(), "job_missing")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("got %v, want not_found fault", err)
	}
}

func TestListJobs_NextCursorOnFullPage(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"job_id", "command", "status", "created_at", "runner_selected"})
	// limit+1 rows signal another page
	for i := 0; i < 3; i++ {
		rows.AddRow(store.NewJobID(), "echo hi", "succeeded", base.Add(-time.Duration(i)*time.Minute), "shell")
	}
	mock.ExpectQuery(`SELECT job_id, command, status, created_at, runner_selected`).
		WillReturnRows(rows)

	items, next, err := s.ListJobs(context.Background(), store.ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
	if next == "" {
		t.Error("expected a next cursor on a full page")
	}

	gotTime, gotID, err := store.DecodeCursor(next)
	if err != nil {
		t.Fatalf("next cursor did not decode: %v", err)
	}
	if gotID != items[1].ID || !gotTime.Equal(items[1].CreatedAt) {
		t.Errorf("cursor points at (%v, %s), want last item (%v, %s)", gotTime, gotID, items[1].CreatedAt, items[1].ID)
	}
}

func TestListJobs_NoCursorOnShortPage(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	rows := sqlmock.NewRows([]string{"job_id", "command", "status", "created_at", "runner_selected"}).
		AddRow(store.NewJobID(), "echo hi", "queued", time.Now().UTC(), nil)
	mock.ExpectQuery(`SELECT job_id, command, status, created_at, runner_selected`).
		WillReturnRows(rows)

	items, next, err := s.ListJobs(context.Background(), store.ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 item, got %d", len(items))
	}
	if next != "" {
		t.Errorf("expected empty next cursor, got %q", next)
	}
}

func TestListJobs_InvalidCursor(t *testing.T) {
	s, _ := newMockStore(t)
	defer s.db.Close()

	_, _, err := s.ListJobs(context.Background(), store.ListFilter{Cursor: "not a cursor"})
	if !fault.Is(err, fault.KindValidation) {
		t.Errorf("got %v, want validation fault", err)
	}
}

func TestMarkJobFailed_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkJobFailed(context.Background(), "job_missing", "no runner available")
	if !fault.Is(err, fault.KindNotFound) {
		t.Errorf("got %v, want not_found fault", err)
	}
}

func TestCountActive(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountActive(context.Background())
	if err != nil {
		t.Fatalf("CountActive failed: %v", err)
	}
	if count != 7 {
		t.Errorf("got %d, want 7", count)
	}
}
