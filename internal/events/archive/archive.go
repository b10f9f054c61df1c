// Package archive persists the event stream to Postgres. The ring buffer
// keeps a bounded in-process window; the archive subscribes to the same
// stream and writes every event to the guard_events table so audits can
// reach further back than the buffer.
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

const defaultBuffer = 1024

// Archive subscribes to an event stream and writes each event to the
// database from a background worker. Inserts never block the publisher:
// when the buffer is full events are dropped and counted.
type Archive struct {
	db     *sqlx.DB
	source events.EventLogger
	log    *logger.Logger

	ch      chan events.Event
	dropped atomic.Int64

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

// Config configures the archive.
type Config struct {
	DB     *sqlx.DB
	Source events.EventLogger
	Log    *logger.Logger
	// Buffer is the size of the in-flight event queue. Zero uses a
	// sensible default.
	Buffer int
}

// New creates an event archive. Start must be called before it records
// anything.
func New(cfg Config) *Archive {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("event-archive")
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Archive{
		db:     cfg.DB,
		source: cfg.Source,
		log:    cfg.Log,
		ch:     make(chan events.Event, buffer),
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "postgres", dsn)
}

// Name implements system.Service.
func (a *Archive) Name() string { return "event-archive" }

// Start subscribes to the event stream and launches the writer.
func (a *Archive) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.unsubscribe = a.source.Subscribe(a.enqueue)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(runCtx)
	}()

	a.log.Info("event archive started")
	return nil
}

// Stop unsubscribes, drains the buffer, and waits for the writer.
func (a *Archive) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	unsubscribe := a.unsubscribe
	cancel := a.cancel
	a.unsubscribe = nil
	a.cancel = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.log.Info("event archive stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (a *Archive) Dropped() int64 { return a.dropped.Load() }

func (a *Archive) enqueue(e events.Event) {
	select {
	case a.ch <- e:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			a.log.WithField("dropped", n).Warn("event archive buffer full, dropping events")
		}
	}
}

func (a *Archive) run(ctx context.Context) {
	for {
		select {
		case e := <-a.ch:
			a.insert(ctx, e)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// drain flushes whatever is still buffered at shutdown, bounded so a dead
// database cannot hold the process hostage.
func (a *Archive) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-a.ch:
			a.insert(ctx, e)
		default:
			return
		}
	}
}

func (a *Archive) insert(ctx context.Context, e events.Event) {
	var metadata interface{}
	if len(e.Metadata) > 0 {
		payload, err := json.Marshal(e.Metadata)
		if err == nil {
			metadata = payload
		}
	}

	const q = `INSERT INTO guard_events (id, type, severity, vault, actor, component, message, error, metadata, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err := a.db.ExecContext(ctx, q,
		e.ID, string(e.Type), string(e.Severity), e.Vault, e.Actor, e.Component,
		e.Message, e.Error, metadata, e.RequestID, e.Timestamp)
	if err != nil {
		a.log.WithError(err).WithField("event_id", e.ID).Warn("failed to archive event")
	}
}

type eventRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Severity  string    `db:"severity"`
	Vault     string    `db:"vault"`
	Actor     string    `db:"actor"`
	Component string    `db:"component"`
	Message   string    `db:"message"`
	Error     string    `db:"error"`
	Metadata  []byte    `db:"metadata"`
	RequestID string    `db:"request_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (r eventRow) toEvent() events.Event {
	e := events.Event{
		ID:        r.ID,
		Type:      events.EventType(r.Type),
		Severity:  events.Severity(r.Severity),
		Timestamp: r.CreatedAt,
		Vault:     r.Vault,
		Actor:     r.Actor,
		Component: r.Component,
		Message:   r.Message,
		Error:     r.Error,
		RequestID: r.RequestID,
	}
	if len(r.Metadata) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(r.Metadata, &meta); err == nil {
			e.Metadata = meta
		}
	}
	return e
}

// Recent returns the newest n archived events.
func (a *Archive) Recent(ctx context.Context, n int) ([]events.Event, error) {
	const q = `SELECT id, type, severity, vault, actor, component, message, error, metadata, request_id, created_at
		FROM guard_events ORDER BY created_at DESC LIMIT $1`
	return a.query(ctx, q, n)
}

// RecentByVault returns the newest n archived events for one vault.
func (a *Archive) RecentByVault(ctx context.Context, vault string, n int) ([]events.Event, error) {
	const q = `SELECT id, type, severity, vault, actor, component, message, error, metadata, request_id, created_at
		FROM guard_events WHERE vault = $1 ORDER BY created_at DESC LIMIT $2`
	return a.query(ctx, q, vault, n)
}

// RecentByType returns the newest n archived events of one type.
func (a *Archive) RecentByType(ctx context.Context, eventType events.EventType, n int) ([]events.Event, error) {
	const q = `SELECT id, type, severity, vault, actor, component, message, error, metadata, request_id, created_at
		FROM guard_events WHERE type = $1 ORDER BY created_at DESC LIMIT $2`
	return a.query(ctx, q, string(eventType), n)
}

func (a *Archive) query(ctx context.Context, q string, args ...interface{}) ([]events.Event, error) {
	var rows []eventRow
	if err := a.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, nil
}
