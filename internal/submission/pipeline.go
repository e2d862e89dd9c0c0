// Package submission sends finished drafts to the backend or queues them while offline.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reserva/internal/events"
	"reserva/internal/metrics"
	"reserva/internal/model"
	"reserva/internal/queue"
	"reserva/internal/session"
	"reserva/internal/wizard"
)

// Outcome is the non-error result of Submit.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePending means the record was queued for later delivery.
	OutcomePending Outcome = "pending"
)

// SubmissionError is a user-visible delivery failure. The draft is kept.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Submitter delivers a record to the backend.
type Submitter interface {
	Submit(ctx context.Context, rec model.SubmissionRecord) error
}

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	Online() bool
}

// OfflineQueue is the durable FIFO used while offline.
type OfflineQueue interface {
	Enqueue(ctx context.Context, sessionKey string, rec model.SubmissionRecord) error
	Peek(ctx context.Context) ([]queue.Entry, error)
	Dequeue(ctx context.Context, formID string) error
	MarkAttempt(ctx context.Context, formID string, cause error) error
}

// Options tune the pipeline.
type Options struct {
	ResetDelay time.Duration
	// ReplayRate is the number of queued records sent per second.
	ReplayRate  float64
	ReplayBurst int
	Now         func() time.Time
}

// Pipeline turns drafts into submission records and delivers them.
type Pipeline struct {
	submitter Submitter
	queue     OfflineQueue
	conn      Connectivity
	bus       *events.EventBus
	limiter   *rate.Limiter
	logger    *zerolog.Logger

	resetDelay time.Duration
	now        func() time.Time
	replayMu   sync.Mutex
}

func NewPipeline(submitter Submitter, q OfflineQueue, conn Connectivity, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = wizard.DefaultResetDelay
	}
	if opts.ReplayRate <= 0 {
		opts.ReplayRate = 2
	}
	if opts.ReplayBurst <= 0 {
		opts.ReplayBurst = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if bus == nil {
		bus = events.NewEventBus()
	}
	l := logger.With().Str("component", "submission").Logger()
	return &Pipeline{
		submitter:  submitter,
		queue:      q,
		conn:       conn,
		bus:        bus,
		limiter:    rate.NewLimiter(rate.Limit(opts.ReplayRate), opts.ReplayBurst),
		logger:     &l,
		resetDelay: opts.ResetDelay,
		now:        opts.Now,
	}
}

// Submit validates the wizard's draft and delivers it. Validation failures
// are returned as *wizard.GateError without touching the network. A wizard
// whose draft is already queued is reported pending and not queued again.
func (p *Pipeline) Submit(ctx context.Context, w *wizard.Wizard, gates wizard.Gates) (Outcome, error) {
	if id := w.PendingFormID(); id != "" {
		p.logger.Debug().Str("form_id", id).Msg("draft already queued")
		return OutcomePending, nil
	}
	d := w.Draft()
	if err := wizard.CheckSubmittable(&d, gates); err != nil {
		return "", err
	}

	w.SetStatus(wizard.StatusSubmitting, "")
	rec := model.NewSubmissionRecord(&d, p.now())
	log := p.logger.With().Str("form_id", rec.FormID).Logger()

	if p.conn != nil && !p.conn.Online() {
		if err := p.queue.Enqueue(ctx, w.Key(), rec); err != nil {
			subErr := &SubmissionError{Message: "could not save your reservation for later, please try again", Err: err}
			w.SetStatus(wizard.StatusFailed, subErr.Message)
			p.publish(events.TypeFailed, w.Key(), rec, err.Error())
			metrics.IncSubmission("failed")
			return "", subErr
		}
		if err := w.MarkPending(ctx, rec.FormID); err != nil {
			log.Warn().Err(err).Msg("pending marker not persisted")
		}
		p.publish(events.TypeQueued, w.Key(), rec, "")
		metrics.IncSubmission("pending")
		log.Info().Msg("offline, reservation queued")
		return OutcomePending, nil
	}

	if err := p.submitter.Submit(ctx, rec); err != nil {
		subErr := &SubmissionError{Message: "could not send your reservation, please try again", Err: err}
		w.SetStatus(wizard.StatusFailed, subErr.Message)
		p.publish(events.TypeFailed, w.Key(), rec, err.Error())
		metrics.IncSubmission("failed")
		log.Warn().Err(err).Msg("submission failed")
		return "", subErr
	}

	w.SetStatus(wizard.StatusSucceeded, "")
	w.ScheduleReset(p.resetDelay)
	p.publish(events.TypeSubmitted, w.Key(), rec, "")
	metrics.IncSubmission("succeeded")
	log.Info().Msg("reservation submitted")
	return OutcomeSucceeded, nil
}

// Replay drains the offline queue in FIFO order. It stops at the first
// failure and leaves that record and the rest queued. Concurrent calls
// return immediately. Each delivered record is published as TypeReplayed
// with the session key of the wizard that queued it.
func (p *Pipeline) Replay(ctx context.Context) (int, error) {
	if !p.replayMu.TryLock() {
		return 0, nil
	}
	defer p.replayMu.Unlock()

	start := time.Now()
	defer func() { metrics.ObserveReplay(time.Since(start)) }()

	entries, err := p.queue.Peek(ctx)
	if err != nil {
		return 0, fmt.Errorf("read offline queue: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	p.logger.Info().Int("queued", len(entries)).Msg("replaying offline queue")

	delivered := 0
	for _, e := range entries {
		if err := p.limiter.Wait(ctx); err != nil {
			return delivered, err
		}
		if err := p.submitter.Submit(ctx, e.Record); err != nil {
			if markErr := p.queue.MarkAttempt(ctx, e.Record.FormID, err); markErr != nil {
				p.logger.Error().Err(markErr).Str("form_id", e.Record.FormID).Msg("failed to record attempt")
			}
			p.publish(events.TypeFailed, e.SessionKey, e.Record, err.Error())
			metrics.IncSubmission("replay_failed")
			p.logger.Warn().Err(err).Str("form_id", e.Record.FormID).Int("delivered", delivered).Msg("replay stopped")
			return delivered, &SubmissionError{Message: "queued reservation could not be delivered", Err: err}
		}
		if err := p.queue.Dequeue(ctx, e.Record.FormID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return delivered, fmt.Errorf("dequeue %s: %w", e.Record.FormID, err)
		}
		delivered++
		p.publish(events.TypeReplayed, e.SessionKey, e.Record, "")
		metrics.IncSubmission("replayed")
	}

	p.logger.Info().Int("delivered", delivered).Msg("offline queue drained")
	return delivered, nil
}

func (p *Pipeline) publish(eventType, sessionKey string, rec model.SubmissionRecord, detail string) {
	p.bus.Publish(events.Event{Type: eventType, SessionKey: sessionKey, Record: rec, Detail: detail, CreatedAt: p.now()})
}

// SettleStored returns a bus handler that clears stored wizards whose queued
// record was delivered. It is for processes without live wizards.
func SettleStored(ctx context.Context, store session.Store) events.EventHandler {
	return func(e events.Event) error {
		_, err := wizard.SettleDelivered(ctx, store, e.SessionKey, e.Record.FormID)
		return err
	}
}
