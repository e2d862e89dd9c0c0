package wizard

import (
	"strings"
	"time"

	"reserva/internal/availability"
	"reserva/internal/model"
	"reserva/internal/panel"
)

// GateError lists why a step cannot be left.
type GateError struct {
	Step       Step
	Violations model.ValidationErrors
}

func (e *GateError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return e.Step.String() + ": " + strings.Join(msgs, "; ")
}

// Gates carries the outside inputs the admission checks depend on.
type Gates struct {
	Now      time.Time
	Decision *availability.Decision
	Panel    panel.State
}

// CheckPersonalData is the gate for leaving the personal data step.
func CheckPersonalData(d *model.Draft, now time.Time) error {
	if errs := model.ValidatePersonalData(d, now); len(errs) > 0 {
		return &GateError{Step: StepPersonalData, Violations: errs}
	}
	return nil
}

// CheckReservationDetails is the gate for leaving the details step. A nil
// decision means availability is not resolved yet and blocks.
func CheckReservationDetails(d *model.Draft, decision *availability.Decision, panelState panel.State) error {
	errs := model.ValidateReservationDetails(d)

	switch {
	case d.ReservationDate.IsZero():
	case decision == nil || !decision.Date.Equal(d.ReservationDate):
		errs = append(errs, &model.ValidationError{Field: "reservationDate", Message: "availability for this date is still loading"})
	case !decision.Available:
		errs = append(errs, &model.ValidationError{Field: "reservationDate", Message: decision.Message})
	case d.DesiredTime != "" && !decision.HasSlot(d.DesiredTime):
		errs = append(errs, &model.ValidationError{Field: "desiredTime", Message: "desiredTime is not offered on this date"})
	}

	if d.PanelRequested() && panelState.Blocking() {
		msg := panelState.Message
		if msg == "" {
			msg = "panel availability is not confirmed"
		}
		errs = append(errs, &model.ValidationError{Field: "panelRequested", Message: msg})
	}

	if len(errs) > 0 {
		return &GateError{Step: StepReservationDetails, Violations: errs}
	}
	return nil
}

// CanAdvance runs the gate of the current step. The summary has none.
func (w *Wizard) CanAdvance(g Gates) error {
	w.mu.Lock()
	d := w.draft
	step := w.step
	w.mu.Unlock()

	switch step {
	case StepPersonalData:
		return CheckPersonalData(&d, g.Now)
	case StepReservationDetails:
		return CheckReservationDetails(&d, g.Decision, g.Panel)
	}
	return nil
}

// CheckSubmittable runs every gate against the draft as a whole.
func CheckSubmittable(d *model.Draft, g Gates) error {
	if err := CheckPersonalData(d, g.Now); err != nil {
		return err
	}
	return CheckReservationDetails(d, g.Decision, g.Panel)
}
