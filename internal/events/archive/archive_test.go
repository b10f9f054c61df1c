package archive

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestArchiveWritesSubscribedEvents(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec("INSERT INTO guard_events").WillReturnResult(sqlmock.NewResult(0, 1))

	ring := events.NewRingBuffer(16)
	arc := New(Config{DB: db, Source: ring, Log: logger.NewNop()})

	ctx := context.Background()
	if err := arc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	ring.Log(events.Event{
		Type:      events.EventRecoveryInitiated,
		Severity:  events.SeverityInfo,
		Vault:     "NVault",
		Actor:     "NGuardian",
		Component: "vaults",
		Metadata:  map[string]string{"new_owner": "NNewOwner"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := arc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("insert never happened: %v", err)
	}
}

func TestArchiveDropsWhenBufferFull(t *testing.T) {
	db, _ := mockDB(t)
	ring := events.NewRingBuffer(16)
	arc := New(Config{DB: db, Source: ring, Log: logger.NewNop(), Buffer: 1})

	// Not started, so nothing drains the queue.
	arc.enqueue(events.Event{ID: "e-1"})
	arc.enqueue(events.Event{ID: "e-2"})
	arc.enqueue(events.Event{ID: "e-3"})

	if got := arc.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestArchiveLifecycleIdempotent(t *testing.T) {
	db, _ := mockDB(t)
	ring := events.NewRingBuffer(16)
	arc := New(Config{DB: db, Source: ring, Log: logger.NewNop()})

	if arc.Name() != "event-archive" {
		t.Errorf("name = %q", arc.Name())
	}

	ctx := context.Background()
	if err := arc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := arc.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := arc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := arc.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestArchiveRecentByVault(t *testing.T) {
	db, mock := mockDB(t)

	columns := []string{"id", "type", "severity", "vault", "actor", "component", "message", "error", "metadata", "request_id", "created_at"}
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM guard_events WHERE vault").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("e-1", "recovery.executed", "info", "NVault", "NAnyone", "vaults", "", "", []byte(`{"new_owner":"NNewOwner"}`), "req-1", created))

	ring := events.NewRingBuffer(16)
	arc := New(Config{DB: db, Source: ring, Log: logger.NewNop()})

	got, err := arc.RecentByVault(context.Background(), "NVault", 10)
	if err != nil {
		t.Fatalf("recent by vault: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	e := got[0]
	if e.Type != events.EventRecoveryExecuted {
		t.Errorf("type = %q", e.Type)
	}
	if e.Metadata["new_owner"] != "NNewOwner" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if !e.Timestamp.Equal(created) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, created)
	}
}
