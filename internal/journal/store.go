// Package journal keeps a local SQLite record of webhook delivery outcomes.
// It stores identifiers, status and timing only, never message text.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stonksrelay/internal/bus"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Entry is one recorded delivery attempt.
type Entry struct {
	ID          string
	MessageID   string
	ChannelID   string
	SessionID   string
	TriggerType string
	Status      string
	StatusCode  int
	Error       string
	LatencyMs   int64
	CreatedAt   time.Time
}

// Summary aggregates journal rows.
type Summary struct {
	Delivered    int
	Failed       int
	LastDelivery time.Time
}

// Store is the SQLite-backed delivery journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Record inserts an entry. Missing ID and CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deliveries
		 (id, message_id, channel_id, session_id, trigger_type, status, status_code, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.ChannelID, e.SessionID, e.TriggerType, e.Status,
		e.StatusCode, e.Error, e.LatencyMs, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, channel_id, session_id, trigger_type, status, status_code, error, latency_ms, created_at
		 FROM deliveries ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ChannelID, &e.SessionID, &e.TriggerType,
			&e.Status, &e.StatusCode, &e.Error, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summarize counts deliveries by outcome.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return sum, fmt.Errorf("summarize deliveries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return sum, fmt.Errorf("scan summary: %w", err)
		}
		switch status {
		case StatusDelivered:
			sum.Delivered = n
		case StatusFailed:
			sum.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	recent, err := s.Recent(ctx, 1)
	if err != nil {
		return sum, err
	}
	if len(recent) > 0 {
		sum.LastDelivery = recent[0].CreatedAt
	}
	return sum, nil
}

// Prune deletes entries older than the retention window and returns how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

// Handler returns a bus handler that records delivered and failed events.
func (s *Store) Handler() bus.EventHandler {
	return func(e bus.Event) {
		var status string
		switch e.Type {
		case bus.EventDelivered:
			status = StatusDelivered
		case bus.EventDeliveryFailed:
			status = StatusFailed
		default:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.Record(ctx, Entry{
			ID:          e.DeliveryID,
			MessageID:   e.MessageID,
			ChannelID:   e.ChannelID,
			SessionID:   e.SessionID,
			TriggerType: e.Trigger,
			Status:      status,
			StatusCode:  e.StatusCode,
			Error:       e.Error,
			LatencyMs:   e.LatencyMs,
			CreatedAt:   e.Timestamp,
		})
		if err != nil {
			s.logger.Warn("journal write failed", "message_id", e.MessageID, "err", err)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
