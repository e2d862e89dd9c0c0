// Package audit keeps a journal of submission outcomes and exports it to Excel.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reserva/internal/database"
	"reserva/internal/events"
)

// Entry is one journal row.
type Entry struct {
	ID              int64
	FormID          string
	Event           string
	Name            string
	ReservationType string
	ReservationDate string
	PartySize       int
	Detail          string
	CreatedAt       time.Time
}

// Journal appends submission events to the submission_log table.
type Journal struct {
	db     *database.DB
	logger *zerolog.Logger
}

func NewJournal(db *database.DB, logger *zerolog.Logger) *Journal {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "audit").Logger()
	return &Journal{db: db, logger: &l}
}

// Attach subscribes the journal to every submission event on bus.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe(func(e events.Event) error {
		return j.Record(context.Background(), e)
	}, events.TypeSubmitted, events.TypeQueued, events.TypeReplayed, events.TypeFailed)
}

// Record writes one event.
func (j *Journal) Record(ctx context.Context, e events.Event) error {
	rec := e.Record
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO submission_log (form_id, event, name, reservation_type, reservation_date, party_size, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FormID, e.Type, rec.PersonalData.Name, string(rec.ReservationType.Type),
		rec.ReservationDetails.ReservationDate.String(), rec.ReservationDetails.PartySize,
		nullable(e.Detail), created.UTC())
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", e.Type, rec.FormID, err)
	}
	return nil
}

// List returns entries created in [from, to), oldest first. Zero bounds are open.
func (j *Journal) List(ctx context.Context, from, to time.Time) ([]Entry, error) {
	query := `SELECT id, form_id, event, COALESCE(name, ''), COALESCE(reservation_type, ''),
		COALESCE(reservation_date, ''), COALESCE(party_size, 0), COALESCE(detail, ''), created_at
		FROM submission_log WHERE 1=1`
	var args []any
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY id ASC`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submission log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.FormID, &e.Event, &e.Name, &e.ReservationType,
			&e.ReservationDate, &e.PartySize, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes the journal.
func (j *Journal) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM submission_log WHERE created_at < ?`, time.Now().Add(-age).UTC())
	if err != nil {
		return 0, fmt.Errorf("prune submission log: %w", err)
	}
	return res.RowsAffected()
}

var exportColumns = []string{"ID", "Form ID", "Event", "Name", "Type", "Reservation date", "Party size", "Detail", "Logged at (UTC)"}

// Export writes entries in [from, to) as one sheet and returns the row count.
func (j *Journal) Export(ctx context.Context, w ExcelWriter, from, to time.Time) (int, error) {
	entries, err := j.List(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if err := w.AddSheet("Submissions"); err != nil {
		return 0, err
	}
	if err := w.WriteHeader(exportColumns); err != nil {
		return 0, err
	}
	for _, e := range entries {
		row := []any{e.ID, e.FormID, e.Event, e.Name, e.ReservationType, e.ReservationDate,
			e.PartySize, e.Detail, e.CreatedAt.UTC().Format("2006-01-02 15:04:05")}
		if err := w.WriteRow(row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", e.ID, err)
		}
	}
	j.logger.Info().Int("rows", len(entries)).Msg("submission journal exported")
	return len(entries), nil
}

// GenerateFilename creates a filename like "submissions_2025-06.xlsx".
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("submissions_%04d-%02d.xlsx", t.Year(), int(t.Month()))
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
