// Package wizard holds the three-step reservation flow and its persistence.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reserva/internal/model"
	"reserva/internal/session"
)

// Step is a wizard page.
type Step int

const (
	StepPersonalData       Step = 1
	StepReservationDetails Step = 2
	StepSummary            Step = 3

	firstStep = StepPersonalData
	lastStep  = StepSummary
)

func (s Step) String() string {
	switch s {
	case StepPersonalData:
		return "personal_data"
	case StepReservationDetails:
		return "reservation_details"
	case StepSummary:
		return "summary"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// SubmitStatus is the in-memory submission state of a session.
type SubmitStatus string

const (
	StatusIdle       SubmitStatus = "idle"
	StatusSubmitting SubmitStatus = "submitting"
	StatusSucceeded  SubmitStatus = "succeeded"
	StatusFailed     SubmitStatus = "failed"
	StatusPending    SubmitStatus = "pending"
)

// DefaultResetDelay is how long a success is shown before the wizard clears.
const DefaultResetDelay = 3 * time.Second

// BackupSuffix is appended to the session key for the crash-recovery copy.
const BackupSuffix = ":backup"

// document is what gets written to the session store. PendingFormID is set
// while the draft sits in the offline queue.
type document struct {
	Draft         model.Draft `json:"draft"`
	CurrentStep   Step        `json:"currentStep"`
	PendingFormID string      `json:"pendingFormId,omitempty"`
}

// Wizard is one user's reservation in progress. All methods are safe for
// concurrent use; every mutation writes the whole document to the store.
type Wizard struct {
	mu     sync.Mutex
	key    string
	store  session.Store
	logger *zerolog.Logger

	draft      model.Draft
	step       Step
	status     SubmitStatus
	lastError  string
	pendingID  string
	resetTimer *time.Timer
	onReset    func()
}

func New(key string, store session.Store, logger *zerolog.Logger) *Wizard {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "wizard").Str("key", key).Logger()
	return &Wizard{
		key:    key,
		store:  store,
		logger: &l,
		draft:  model.NewDraft(),
		step:   firstStep,
		status: StatusIdle,
	}
}

func (w *Wizard) Key() string { return w.key }

// Draft returns a copy of the current draft.
func (w *Wizard) Draft() model.Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Status returns the submission status and the last failure message.
func (w *Wizard) Status() (SubmitStatus, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.lastError
}

// SetStatus records the submission status. Only the pending state is
// persisted, through MarkPending.
func (w *Wizard) SetStatus(status SubmitStatus, message string) {
	w.mu.Lock()
	w.status = status
	w.lastError = message
	w.mu.Unlock()
}

// MarkPending records that the draft was queued as formID and persists the
// marker so a restored wizard stays pending.
func (w *Wizard) MarkPending(ctx context.Context, formID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusPending
	w.lastError = ""
	w.pendingID = formID
	return w.persistLocked(ctx)
}

// PendingFormID returns the form id waiting in the offline queue, if any.
func (w *Wizard) PendingFormID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingID
}

// Delivered resolves a pending submission once the queued formID reached the
// backend: the wizard becomes succeeded and resets after delay. It reports
// false when the wizard is not waiting for formID.
func (w *Wizard) Delivered(formID string, delay time.Duration) bool {
	w.mu.Lock()
	if formID == "" || w.pendingID != formID {
		w.mu.Unlock()
		return false
	}
	w.status = StatusSucceeded
	w.lastError = ""
	w.mu.Unlock()
	w.ScheduleReset(delay)
	return true
}

// OnReset registers fn to run after a scheduled reset completes.
func (w *Wizard) OnReset(fn func()) {
	w.mu.Lock()
	w.onReset = fn
	w.mu.Unlock()
}

// Update applies fn to a copy of the draft. If fn fails nothing changes;
// otherwise the new draft replaces the old one and is persisted.
func (w *Wizard) Update(ctx context.Context, fn func(*model.Draft) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.draft
	if err := fn(&next); err != nil {
		return err
	}
	w.draft = next
	return w.persistLocked(ctx)
}

// Advance moves one step forward, never past the summary.
func (w *Wizard) Advance(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = min(w.step+1, lastStep)
	return w.persistLocked(ctx)
}

// Retreat moves one step back, never before the first step.
func (w *Wizard) Retreat(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = max(w.step-1, firstStep)
	return w.persistLocked(ctx)
}

func (w *Wizard) current() document {
	return document{Draft: w.draft, CurrentStep: w.step, PendingFormID: w.pendingID}
}

func (w *Wizard) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(w.current())
	if err != nil {
		return fmt.Errorf("encode wizard: %w", err)
	}
	if err := w.store.Set(ctx, w.key, data); err != nil {
		return fmt.Errorf("persist wizard: %w", err)
	}
	return nil
}

// Snapshot writes the crash-recovery copy.
func (w *Wizard) Snapshot(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(w.current())
	if err != nil {
		return fmt.Errorf("encode wizard: %w", err)
	}
	if err := w.store.Set(ctx, w.key+BackupSuffix, data); err != nil {
		return fmt.Errorf("snapshot wizard: %w", err)
	}
	return nil
}

// Restore loads persisted state. The crash-recovery copy wins over the
// ordinary copy and is deleted once consumed. It reports whether anything
// was restored.
func (w *Wizard) Restore(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	backupKey := w.key + BackupSuffix
	if doc, ok, err := w.load(ctx, backupKey); err != nil {
		return false, err
	} else if ok {
		w.apply(doc)
		if err := w.store.Remove(ctx, backupKey); err != nil {
			w.logger.Warn().Err(err).Msg("failed to remove crash backup")
		}
		w.logger.Info().Stringer("step", w.step).Msg("restored from crash backup")
		return true, w.persistLocked(ctx)
	}

	doc, ok, err := w.load(ctx, w.key)
	if err != nil || !ok {
		return false, err
	}
	w.apply(doc)
	return true, nil
}

func (w *Wizard) load(ctx context.Context, key string) (document, bool, error) {
	data, err := w.store.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) {
		return document{}, false, nil
	}
	if err != nil {
		return document{}, false, fmt.Errorf("load wizard: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt copy is dropped rather than blocking the user.
		w.logger.Warn().Err(err).Str("stored_key", key).Msg("discarding unreadable wizard state")
		_ = w.store.Remove(ctx, key)
		return document{}, false, nil
	}
	return doc, true, nil
}

func (w *Wizard) apply(doc document) {
	w.draft = doc.Draft
	w.step = min(max(doc.CurrentStep, firstStep), lastStep)
	w.pendingID = doc.PendingFormID
	if w.pendingID != "" {
		w.status = StatusPending
	}
}

// ScheduleReset clears the wizard after delay. A newer call replaces a pending one.
func (w *Wizard) ScheduleReset(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resetTimer != nil {
		w.resetTimer.Stop()
	}
	w.resetTimer = time.AfterFunc(delay, func() {
		if err := w.Reset(context.Background()); err != nil {
			w.logger.Error().Err(err).Msg("scheduled reset failed")
		}
		w.mu.Lock()
		fn := w.onReset
		w.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Reset returns to an empty draft on the first step and clears both stored copies.
func (w *Wizard) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resetTimer != nil {
		w.resetTimer.Stop()
		w.resetTimer = nil
	}
	w.draft = model.NewDraft()
	w.step = firstStep
	w.status = StatusIdle
	w.lastError = ""
	w.pendingID = ""

	var errs []error
	if err := w.store.Remove(ctx, w.key); err != nil {
		errs = append(errs, err)
	}
	if err := w.store.Remove(ctx, w.key+BackupSuffix); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SettleDelivered removes the stored wizard under key when its latest copy
// is still waiting for formID. It is used when no live wizard holds the key.
func SettleDelivered(ctx context.Context, store session.Store, key, formID string) (bool, error) {
	if key == "" || formID == "" {
		return false, nil
	}
	latest, err := readDocument(ctx, store, key+BackupSuffix)
	if err != nil {
		return false, err
	}
	if latest == nil {
		if latest, err = readDocument(ctx, store, key); err != nil {
			return false, err
		}
	}
	if latest == nil || latest.PendingFormID != formID {
		return false, nil
	}
	return true, errors.Join(store.Remove(ctx, key), store.Remove(ctx, key+BackupSuffix))
}

func readDocument(ctx context.Context, store session.Store, key string) (*document, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wizard: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil
	}
	return &doc, nil
}

// Close stops a pending reset.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resetTimer != nil {
		w.resetTimer.Stop()
		w.resetTimer = nil
	}
}
