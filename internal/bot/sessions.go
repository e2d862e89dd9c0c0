package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"reserva/internal/availability"
	"reserva/internal/panel"
	"reserva/internal/wizard"
)

// KeyPrefix is the session store key prefix; the chat id is appended.
const KeyPrefix = "reservation-storage:"

// field is one question the bot asks.
type field string

const (
	fieldNone       field = ""
	fieldName       field = "name"
	fieldEmail      field = "email"
	fieldPhone      field = "phone"
	fieldBirthDate  field = "birthDate"
	fieldType       field = "reservationType"
	fieldMenu       field = "menuType"
	fieldPanel      field = "panelRequested"
	fieldPartySize  field = "partySize"
	fieldDate       field = "reservationDate"
	fieldTime       field = "desiredTime"
	fieldLocation   field = "desiredLocation"
	fieldNotes      field = "notes"
	fieldPanelNotes field = "panelNotes"
	fieldPurchNotes field = "purchaseNotes"
)

// chatSession is the live state of one chat. The wizard owns everything
// that is persisted; the rest is rebuilt on restore.
type chatSession struct {
	mu       sync.Mutex
	chatID   int64
	wizard   *wizard.Wizard
	engine   *panel.Engine
	decision *availability.Decision
	awaiting field
	// answered marks optional questions that were asked and skipped.
	answered map[field]bool
	// advancePending is set while the details gate waits for a panel check.
	advancePending bool
	panelNotice    string
	lastSeen       time.Time
}

func (s *chatSession) touch(now time.Time) {
	s.lastSeen = now
}

func (s *chatSession) clearLocal() {
	s.decision = nil
	s.awaiting = fieldNone
	s.answered = make(map[field]bool)
	s.advancePending = false
	s.panelNotice = ""
	s.engine.Reset()
}

func (s *chatSession) close() {
	s.engine.Stop()
	s.wizard.Close()
}

// sessionStore keeps one chatSession per chat. Idle sessions are evicted by
// cleanup; their persisted wizard stays in the session store.
type sessionStore struct {
	mu sync.Mutex
	m  map[int64]*chatSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{m: make(map[int64]*chatSession)}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefix, chatID)
}

func chatIDFromKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

func (s *sessionStore) lookup(chatID int64) (*chatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.m[chatID]
	return cs, ok
}

// getOrCreate returns the chat's session and whether it was just created.
func (s *sessionStore) getOrCreate(chatID int64, create func() *chatSession) (*chatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.m[chatID]; ok {
		return cs, false
	}
	cs := create()
	s.m[chatID] = cs
	return cs, true
}

func (s *sessionStore) all() []*chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatSession, 0, len(s.m))
	for _, cs := range s.m {
		out = append(out, cs)
	}
	return out
}

// cleanup drops sessions idle for longer than timeout and returns how many were dropped.
func (s *sessionStore) cleanup(now time.Time, timeout time.Duration) int {
	s.mu.Lock()
	var expired []*chatSession
	for id, cs := range s.m {
		cs.mu.Lock()
		idle := now.Sub(cs.lastSeen)
		cs.mu.Unlock()
		if idle > timeout {
			expired = append(expired, cs)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	for _, cs := range expired {
		cs.close()
	}
	return len(expired)
}

// snapshotAll writes the crash-recovery copy of every live wizard.
func (s *sessionStore) snapshotAll(ctx context.Context) error {
	var firstErr error
	for _, cs := range s.all() {
		if err := cs.wizard.Snapshot(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
