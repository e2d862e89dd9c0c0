// Package access decides who may talk to the bot and who may run manager
// commands. Managers come from configuration; blocked users live in SQLite.
package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reserva/internal/database"
)

// BlockedUser is one blocklist row.
type BlockedUser struct {
	UserID    int64
	Reason    string
	BlockedBy int64
	BlockedAt time.Time
}

// DeniedError is returned when a user may not use the bot or a command.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

// IsDenied reports whether err is a *DeniedError.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}

// Service checks access against the blocklist and the manager list.
type Service struct {
	db       *database.DB
	managers map[int64]struct{}
	logger   *zerolog.Logger
}

func NewService(db *database.DB, managers []int64, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := make(map[int64]struct{}, len(managers))
	for _, id := range managers {
		m[id] = struct{}{}
	}
	l := logger.With().Str("component", "access").Logger()
	return &Service{db: db, managers: m, logger: &l}
}

// IsManager reports whether userID may run manager commands.
func (s *Service) IsManager(userID int64) bool {
	_, ok := s.managers[userID]
	return ok
}

// Check returns a *DeniedError when userID is blocked. Managers are never blocked.
func (s *Service) Check(ctx context.Context, userID int64) error {
	if s.IsManager(userID) {
		return nil
	}
	bu, err := s.Blocked(ctx, userID)
	if err != nil {
		return fmt.Errorf("checking blocklist: %w", err)
	}
	if bu == nil {
		return nil
	}
	reason := "Access denied."
	if bu.Reason != "" {
		reason = "Access denied: " + bu.Reason
	}
	return &DeniedError{Reason: reason}
}

// Blocked returns the blocklist row of userID, or nil.
func (s *Service) Blocked(ctx context.Context, userID int64) (*BlockedUser, error) {
	var (
		bu     BlockedUser
		reason sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, reason, blocked_by, blocked_at FROM blocked_users WHERE user_id = ?",
		userID,
	).Scan(&bu.UserID, &reason, &bu.BlockedBy, &bu.BlockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bu.Reason = reason.String
	return &bu, nil
}

// Block adds userID to the blocklist on behalf of manager by.
func (s *Service) Block(ctx context.Context, userID int64, reason string, by int64) error {
	if !s.IsManager(by) {
		return &DeniedError{Reason: "Only managers can block users."}
	}
	if s.IsManager(userID) {
		return &DeniedError{Reason: "Managers cannot be blocked."}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blocked_users (user_id, reason, blocked_by, blocked_at)
		VALUES (?, ?, ?, ?)`,
		userID, reason, by, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("block user %d: %w", userID, err)
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int64("blocked_by", by).
		Str("reason", reason).
		Msg("user blocked")
	return nil
}

// Unblock removes userID from the blocklist. It reports whether a row was removed.
func (s *Service) Unblock(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM blocked_users WHERE user_id = ?", userID)
	if err != nil {
		return false, fmt.Errorf("unblock user %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("user_id", userID).Msg("user unblocked")
	}
	return n > 0, nil
}

// List returns every blocked user, newest first.
func (s *Service) List(ctx context.Context) ([]BlockedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, reason, blocked_by, blocked_at FROM blocked_users ORDER BY blocked_at DESC, user_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockedUser
	for rows.Next() {
		var (
			bu     BlockedUser
			reason sql.NullString
		)
		if err := rows.Scan(&bu.UserID, &reason, &bu.BlockedBy, &bu.BlockedAt); err != nil {
			return nil, err
		}
		bu.Reason = reason.String
		out = append(out, bu)
	}
	return out, rows.Err()
}
