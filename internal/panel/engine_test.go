package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reserva/internal/availability"
	"reserva/internal/model"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) CheckCapacity(ctx context.Context, q Query) (Result, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(Result), args.Error(1)
}

var reservationDay = model.MustDate(2025, 6, 14)

func birthdayDraft() *model.Draft {
	d := model.NewDraft()
	_ = d.SetType(model.TypeBirthday)
	_ = d.SetPanelRequested(true)
	d.PartySize = 12
	d.ReservationDate = reservationDay
	d.DesiredLocation = model.LocationNearStage
	return &d
}

func openDecision() *availability.Decision {
	return &availability.Decision{Date: reservationDay, Available: true, TimeSlots: []string{"19:00"}}
}

func newTestEngine(checker CapacityChecker) (*Engine, chan State) {
	e := NewEngine(checker, Settings{Debounce: 20 * time.Millisecond}, nil)
	states := make(chan State, 16)
	e.OnChange(func(s State) { states <- s })
	return e, states
}

func waitFor(t *testing.T, states chan State, want Status) State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Status == want {
				return s
			}
		case <-deadline:
			t.Fatalf("state %s not reached", want)
			return State{}
		}
	}
}

func TestLocalPredicate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Draft)
		status Status
		reason Reason
	}{
		{"not a birthday", func(d *model.Draft) { _ = d.SetType(model.TypeParty) }, StatusIneligible, ReasonTypeMismatch},
		{"not requested", func(d *model.Draft) { _ = d.SetPanelRequested(false) }, StatusIdle, ReasonNotRequested},
		{"party too small", func(d *model.Draft) { d.PartySize = 9 }, StatusIneligible, ReasonPartySize},
		{"location not allowed", func(d *model.Draft) { d.DesiredLocation = model.LocationNearPlay }, StatusIneligible, ReasonLocation},
		{"location missing", func(d *model.Draft) { d.DesiredLocation = "" }, StatusIneligible, ReasonLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := new(mockChecker)
			e, _ := newTestEngine(checker)
			d := birthdayDraft()
			tt.mutate(d)

			e.Evaluate(d, openDecision())

			st := e.State()
			assert.Equal(t, tt.status, st.Status)
			assert.Equal(t, tt.reason, st.Reason)
			assert.True(t, st.Blocking())
			time.Sleep(40 * time.Millisecond)
			checker.AssertNotCalled(t, "CheckCapacity", mock.Anything, mock.Anything)
		})
	}
}

func TestDateUnavailableSkipsRemote(t *testing.T) {
	checker := new(mockChecker)
	e, _ := newTestEngine(checker)

	closed := &availability.Decision{Date: reservationDay, Message: availability.MsgSundayClosed}
	e.Evaluate(birthdayDraft(), closed)
	assert.Equal(t, StatusDateUnavailable, e.State().Status)
	assert.Equal(t, availability.MsgSundayClosed, e.State().Message)

	e.Evaluate(birthdayDraft(), nil)
	assert.Equal(t, StatusDateUnavailable, e.State().Status)

	time.Sleep(40 * time.Millisecond)
	checker.AssertNotCalled(t, "CheckCapacity", mock.Anything, mock.Anything)
}

func TestDebounceCoalesces(t *testing.T) {
	checker := new(mockChecker)
	last := Query{Date: reservationDay, PartySize: 15, Location: model.LocationNearStage}
	checker.On("CheckCapacity", mock.Anything, last).Return(Result{Available: true, SlotsUsed: 1}, nil).Once()
	e, states := newTestEngine(checker)

	d := birthdayDraft()
	for _, size := range []int{12, 13, 14, 15} {
		d.PartySize = size
		e.Evaluate(d, openDecision())
	}

	st := waitFor(t, states, StatusAvailable)
	assert.Equal(t, 1, st.SlotsUsed)
	assert.False(t, st.Blocking())
	checker.AssertNumberOfCalls(t, "CheckCapacity", 1)
	checker.AssertExpectations(t)
}

func TestIdenticalQueryIsNoop(t *testing.T) {
	checker := new(mockChecker)
	checker.On("CheckCapacity", mock.Anything, mock.Anything).Return(Result{Available: true}, nil)
	e, states := newTestEngine(checker)

	d := birthdayDraft()
	e.Evaluate(d, openDecision())
	waitFor(t, states, StatusAvailable)

	e.Evaluate(d, openDecision())
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, StatusAvailable, e.State().Status)
	checker.AssertNumberOfCalls(t, "CheckCapacity", 1)
}

// blockingChecker holds the first call until release is closed.
type blockingChecker struct {
	mu      sync.Mutex
	calls   []Query
	started chan struct{}
	release chan struct{}
}

func (b *blockingChecker) CheckCapacity(_ context.Context, q Query) (Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, q)
	first := len(b.calls) == 1
	b.mu.Unlock()

	if first {
		close(b.started)
		<-b.release
		return Result{Available: false, SlotsUsed: 2}, nil
	}
	return Result{Available: true, SlotsUsed: 0}, nil
}

func TestStaleResultDropped(t *testing.T) {
	checker := &blockingChecker{started: make(chan struct{}), release: make(chan struct{})}
	e, states := newTestEngine(checker)

	d := birthdayDraft()
	e.Evaluate(d, openDecision())
	<-checker.started

	d.PartySize = 20
	e.Evaluate(d, openDecision())
	close(checker.release)

	st := waitFor(t, states, StatusAvailable)
	assert.Equal(t, 0, st.SlotsUsed)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StatusAvailable, e.State().Status, "first result must not overwrite the newer one")
}

func TestLimitReached(t *testing.T) {
	checker := new(mockChecker)
	checker.On("CheckCapacity", mock.Anything, mock.Anything).Return(Result{Available: true, SlotsUsed: 7}, nil)
	e, states := newTestEngine(checker)

	e.Evaluate(birthdayDraft(), openDecision())
	st := waitFor(t, states, StatusUnavailable)

	assert.Equal(t, ReasonLimitReached, st.Reason)
	assert.Equal(t, MaxConcurrent, st.SlotsUsed)
	assert.NotEmpty(t, st.Message)
	assert.True(t, st.Blocking())
}

func TestRemoteErrorIsUnknown(t *testing.T) {
	checker := new(mockChecker)
	checker.On("CheckCapacity", mock.Anything, mock.Anything).Return(Result{}, errors.New("timeout")).Once()
	checker.On("CheckCapacity", mock.Anything, mock.Anything).Return(Result{Available: true}, nil).Once()
	e, states := newTestEngine(checker)

	d := birthdayDraft()
	e.Evaluate(d, openDecision())
	st := waitFor(t, states, StatusError)
	require.Error(t, st.Err)
	assert.Equal(t, ReasonNone, st.Reason)
	assert.True(t, st.Blocking())

	// an error does not memoize the query
	e.Evaluate(d, openDecision())
	waitFor(t, states, StatusAvailable)
}

func TestInterpretClampsNegative(t *testing.T) {
	st := interpret(Result{Available: true, SlotsUsed: -3}, nil)
	assert.Equal(t, StatusAvailable, st.Status)
	assert.Equal(t, 0, st.SlotsUsed)
}

func TestResetCancelsPending(t *testing.T) {
	checker := new(mockChecker)
	e, _ := newTestEngine(checker)

	e.Evaluate(birthdayDraft(), openDecision())
	e.Reset()
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, StatusIdle, e.State().Status)
	checker.AssertNotCalled(t, "CheckCapacity", mock.Anything, mock.Anything)
}
