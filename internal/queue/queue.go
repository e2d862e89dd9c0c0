// Package queue is the durable FIFO of submissions made while offline.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"reserva/internal/database"
	"reserva/internal/metrics"
	"reserva/internal/model"
)

// ErrNotFound is returned when a form id is not queued.
var ErrNotFound = errors.New("form not in offline queue")

// Entry is one queued record with its delivery bookkeeping.
type Entry struct {
	Seq        int64
	// SessionKey identifies the wizard that produced the record.
	SessionKey string
	Record     model.SubmissionRecord
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// Queue stores records in the offline_queue table ordered by insertion.
type Queue struct {
	db     *database.DB
	logger *zerolog.Logger
}

func New(db *database.DB, logger *zerolog.Logger) *Queue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "queue").Logger()
	q := &Queue{db: db, logger: &l}
	if n, err := q.Len(context.Background()); err == nil {
		metrics.SetQueueLength(n)
	}
	return q
}

// Enqueue appends rec on behalf of the wizard stored under sessionKey.
// Enqueueing the same form id twice is a no-op.
func (q *Queue) Enqueue(ctx context.Context, sessionKey string, rec model.SubmissionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO offline_queue (form_id, session_key, payload) VALUES (?, ?, ?)`,
		rec.FormID, sessionKey, string(payload))
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		q.logger.Debug().Str("form_id", rec.FormID).Msg("record already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", rec.FormID, err)
	}
	q.logger.Info().Str("form_id", rec.FormID).Msg("submission queued for later delivery")
	q.refreshGauge(ctx)
	return nil
}

// Peek returns every queued entry, oldest first.
func (q *Queue) Peek(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, session_key, payload, attempts, COALESCE(last_error, ''), created_at
		 FROM offline_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("peek offline queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.Seq, &e.SessionKey, &payload, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offline queue: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Record); err != nil {
			return nil, fmt.Errorf("decode queued record %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Records returns the queued records, oldest first.
func (q *Queue) Records(ctx context.Context) ([]model.SubmissionRecord, error) {
	entries, err := q.Peek(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.SubmissionRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record)
	}
	return out, nil
}

// Contains reports whether formID is still waiting for delivery.
func (q *Queue) Contains(ctx context.Context, formID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue WHERE form_id = ?`, formID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", formID, err)
	}
	return n > 0, nil
}

// Dequeue removes the record with formID.
func (q *Queue) Dequeue(ctx context.Context, formID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE form_id = ?`, formID)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", formID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	q.refreshGauge(ctx)
	return nil
}

// MarkAttempt records a failed delivery attempt.
func (q *Queue) MarkAttempt(ctx context.Context, formID string, cause error) error {
	var msg sql.NullString
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE offline_queue SET attempts = attempts + 1, last_error = ?, last_attempt_at = CURRENT_TIMESTAMP
		 WHERE form_id = ?`, msg, formID)
	if err != nil {
		return fmt.Errorf("mark attempt %s: %w", formID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of queued records.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count offline queue: %w", err)
	}
	return n, nil
}

func (q *Queue) refreshGauge(ctx context.Context) {
	if n, err := q.Len(ctx); err == nil {
		metrics.SetQueueLength(n)
	}
}
