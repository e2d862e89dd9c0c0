// Package panel decides whether the decorative birthday panel can be booked.
package panel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reserva/internal/availability"
	"reserva/internal/metrics"
	"reserva/internal/model"
)

// MaxConcurrent is the number of panels that can be booked for one slot.
const MaxConcurrent = 2

const (
	DefaultMinPartySize = 10
	DefaultDebounce     = 500 * time.Millisecond
	DefaultCheckTimeout = 10 * time.Second
)

// DefaultAllowedLocations are the panel-capable locations.
var DefaultAllowedLocations = []model.Location{model.LocationNearStage, model.LocationOutdoorArea}

type Status string

const (
	StatusIdle            Status = "idle"
	StatusIneligible      Status = "ineligible"
	StatusDateUnavailable Status = "date_unavailable"
	StatusChecking        Status = "checking"
	StatusAvailable       Status = "available"
	StatusUnavailable     Status = "unavailable"
	StatusError           Status = "error"
)

type Reason string

const (
	ReasonNone            Reason = ""
	ReasonTypeMismatch    Reason = "type_mismatch"
	ReasonNotRequested    Reason = "not_requested"
	ReasonPartySize       Reason = "party_size"
	ReasonLocation        Reason = "location"
	ReasonLimitReached    Reason = "limit_reached"
	ReasonDateUnavailable Reason = "date_unavailable"
)

// Query is the input of one remote capacity check.
type Query struct {
	Date      model.Date
	PartySize int
	Location  model.Location
}

// Result is the answer of the capacity collaborator.
type Result struct {
	Available bool   `json:"available"`
	SlotsUsed int    `json:"slotsUsed"`
	Message   string `json:"message,omitempty"`
}

// CapacityChecker runs the remote capacity check.
type CapacityChecker interface {
	CheckCapacity(ctx context.Context, q Query) (Result, error)
}

// State is the engine's current view of panel availability.
type State struct {
	Status    Status
	Reason    Reason
	Message   string
	SlotsUsed int
	Err       error
}

// Blocking reports whether a requested panel in this state must stop submission.
func (s State) Blocking() bool {
	return s.Status != StatusAvailable
}

// Settings tune the local predicate and debounce.
type Settings struct {
	AllowedLocations []model.Location
	MinPartySize     int
	Debounce         time.Duration
	CheckTimeout     time.Duration
}

func (s Settings) withDefaults() Settings {
	if len(s.AllowedLocations) == 0 {
		s.AllowedLocations = DefaultAllowedLocations
	}
	if s.MinPartySize <= 0 {
		s.MinPartySize = DefaultMinPartySize
	}
	if s.Debounce <= 0 {
		s.Debounce = DefaultDebounce
	}
	if s.CheckTimeout <= 0 {
		s.CheckTimeout = DefaultCheckTimeout
	}
	return s
}

// Engine evaluates panel eligibility for one wizard. Remote checks are
// debounced and only the most recently issued check may update the state.
type Engine struct {
	mu       sync.Mutex
	checker  CapacityChecker
	settings Settings
	logger   *zerolog.Logger

	seq      uint64
	timer    *time.Timer
	query    *Query
	state    State
	listener func(State)
}

func NewEngine(checker CapacityChecker, settings Settings, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "panel").Logger()
	return &Engine{
		checker:  checker,
		settings: settings.withDefaults(),
		logger:   &l,
		state:    State{Status: StatusIdle},
	}
}

// OnChange registers fn to receive every state change.
func (e *Engine) OnChange(fn func(State)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Evaluate is called after any change to the type, panel flag, party size,
// location, date or its decision. A nil decision means availability is not resolved.
func (e *Engine) Evaluate(d *model.Draft, decision *availability.Decision) {
	e.mu.Lock()

	if st, ok := e.localCheck(d); !ok {
		e.settleLocked(st)
		e.mu.Unlock()
		e.notify(st)
		return
	}
	if decision == nil || !decision.Available || !decision.Date.Equal(d.ReservationDate) {
		st := State{Status: StatusDateUnavailable, Reason: ReasonDateUnavailable}
		if decision != nil {
			st.Message = decision.Message
		}
		e.settleLocked(st)
		e.mu.Unlock()
		e.notify(st)
		return
	}

	q := Query{Date: d.ReservationDate, PartySize: d.PartySize, Location: d.DesiredLocation}
	if e.query != nil && *e.query == q && e.state.Status != StatusError {
		e.mu.Unlock()
		return
	}

	e.seq++
	seq := e.seq
	e.query = &q
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.settings.Debounce, func() { e.fire(seq, q) })
	st := State{Status: StatusChecking}
	e.state = st
	e.mu.Unlock()
	e.notify(st)
}

// Reset cancels pending work and returns to idle.
func (e *Engine) Reset() {
	st := State{Status: StatusIdle}
	e.mu.Lock()
	e.settleLocked(st)
	e.mu.Unlock()
	e.notify(st)
}

// Stop cancels any pending check without publishing a change.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) localCheck(d *model.Draft) (State, bool) {
	switch {
	case d.Type() != model.TypeBirthday:
		return State{Status: StatusIneligible, Reason: ReasonTypeMismatch, Message: "the panel is only available for birthdays"}, false
	case !d.PanelRequested():
		return State{Status: StatusIdle, Reason: ReasonNotRequested}, false
	case d.PartySize < e.settings.MinPartySize:
		return State{Status: StatusIneligible, Reason: ReasonPartySize, Message: fmt.Sprintf("the panel needs a party of at least %d people", e.settings.MinPartySize)}, false
	case !slices.Contains(e.settings.AllowedLocations, d.DesiredLocation):
		return State{Status: StatusIneligible, Reason: ReasonLocation, Message: "the panel is not available at this location"}, false
	}
	return State{}, true
}

// settleLocked invalidates pending and in-flight checks and sets st.
func (e *Engine) settleLocked(st State) {
	e.seq++
	e.query = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state = st
}

func (e *Engine) fire(seq uint64, q Query) {
	e.mu.Lock()
	if seq != e.seq {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.settings.CheckTimeout)
	res, err := e.checker.CheckCapacity(ctx, q)
	cancel()

	e.mu.Lock()
	if seq != e.seq {
		e.mu.Unlock()
		metrics.IncStalePanelResult()
		e.logger.Debug().Uint64("seq", seq).Msg("dropping stale capacity result")
		return
	}
	st := interpret(res, err)
	e.state = st
	e.mu.Unlock()

	if err != nil {
		metrics.IncCapacityCheck("error")
		e.logger.Warn().Err(err).Str("date", q.Date.String()).Msg("capacity check failed")
	} else {
		metrics.IncCapacityCheck(string(st.Status))
	}
	e.notify(st)
}

func interpret(res Result, err error) State {
	if err != nil {
		return State{Status: StatusError, Message: "could not check panel availability", Err: err}
	}
	used := min(max(res.SlotsUsed, 0), MaxConcurrent)
	switch {
	case used >= MaxConcurrent:
		msg := res.Message
		if msg == "" {
			msg = "panel booking limit reached for this date"
		}
		return State{Status: StatusUnavailable, Reason: ReasonLimitReached, Message: msg, SlotsUsed: used}
	case !res.Available:
		return State{Status: StatusUnavailable, Message: res.Message, SlotsUsed: used}
	}
	return State{Status: StatusAvailable, Message: res.Message, SlotsUsed: used}
}

func (e *Engine) notify(st State) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
