package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"reserva/internal/availability"
	"reserva/internal/model"
	"reserva/internal/panel"
	"reserva/internal/wizard"
)

var fieldLabels = map[field]string{
	fieldName:       "Name",
	fieldEmail:      "Email",
	fieldPhone:      "Phone",
	fieldBirthDate:  "Birth date",
	fieldType:       "Type",
	fieldMenu:       "Menu",
	fieldPanel:      "Panel",
	fieldPanelNotes: "Panel notes",
	fieldPurchNotes: "Purchase notes",
	fieldPartySize:  "Party size",
	fieldDate:       "Date",
	fieldTime:       "Time",
	fieldLocation:   "Location",
	fieldNotes:      "Notes",
}

var questions = map[field]string{
	fieldName:       "What is your full name?",
	fieldEmail:      "What is your email address?",
	fieldPhone:      "What is your phone number? Example: (11) 98765-4321",
	fieldBirthDate:  "What is your birth date? Use YYYY-MM-DD or DD.MM.YYYY.",
	fieldType:       "What kind of reservation is it?",
	fieldMenu:       "Which menu would you like?",
	fieldPanel:      "Would you like the decorative birthday panel?",
	fieldPanelNotes: "Any notes for the panel (theme, name to display)?",
	fieldPurchNotes: "Anything you would like to purchase in advance?",
	fieldPartySize:  fmt.Sprintf("How many people, including you? (%d-%d)", model.MinPartySize, model.MaxPartySize),
	fieldDate:       "Pick a date.",
	fieldTime:       "Pick a time.",
	fieldLocation:   "Where would you like to sit?",
	fieldNotes:      "Anything else we should know?",
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006"}

func parseUserDate(s string) (model.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DateOf(t), nil
		}
	}
	return model.Date{}, fmt.Errorf("invalid date %q", s)
}

// stepFields lists the questions of a step in asking order for draft d.
func stepFields(step wizard.Step, d *model.Draft) []field {
	switch step {
	case wizard.StepPersonalData:
		return []field{fieldName, fieldEmail, fieldPhone, fieldBirthDate}
	case wizard.StepReservationDetails:
		out := []field{fieldType}
		switch d.Type() {
		case model.TypeParty:
			out = append(out, fieldMenu, fieldPurchNotes)
		case model.TypeBirthday:
			out = append(out, fieldPanel)
			if d.PanelRequested() {
				out = append(out, fieldPanelNotes)
			}
		}
		return append(out, fieldPartySize, fieldDate, fieldTime, fieldLocation, fieldNotes)
	}
	return nil
}

// missing reports whether f still needs an answer.
func (s *chatSession) missing(f field, d *model.Draft) bool {
	switch f {
	case fieldName:
		return d.Name == ""
	case fieldEmail:
		return d.Email == ""
	case fieldPhone:
		return d.Phone == ""
	case fieldBirthDate:
		return d.BirthDate.IsZero()
	case fieldType:
		return d.Variant == nil
	case fieldMenu:
		p, ok := d.Variant.(model.PartyVariant)
		return ok && p.Menu == ""
	case fieldPanel:
		return !s.answered[fieldPanel] && !d.PanelRequested()
	case fieldPanelNotes:
		b, _ := d.Variant.(model.BirthdayVariant)
		return !s.answered[fieldPanelNotes] && b.PanelNotes == ""
	case fieldPurchNotes:
		p, _ := d.Variant.(model.PartyVariant)
		return !s.answered[fieldPurchNotes] && p.PurchaseNotes == ""
	case fieldPartySize:
		return !s.answered[fieldPartySize] && d.PartySize <= model.MinPartySize
	case fieldDate:
		if d.ReservationDate.IsZero() {
			return true
		}
		return s.decision != nil && s.decision.Date.Equal(d.ReservationDate) && !s.decision.Available
	case fieldTime:
		if d.DesiredTime == "" {
			return true
		}
		return s.decision != nil && s.decision.Available && !s.decision.HasSlot(d.DesiredTime)
	case fieldLocation:
		return d.DesiredLocation == ""
	case fieldNotes:
		return !s.answered[fieldNotes] && d.Notes == ""
	}
	return false
}

func (s *chatSession) nextMissing(step wizard.Step, d *model.Draft) field {
	for _, f := range stepFields(step, d) {
		if s.missing(f, d) {
			return f
		}
	}
	return fieldNone
}

// ask sends the question for f and remembers that an answer is expected.
func (b *Bot) ask(cs *chatSession, f field) {
	cs.awaiting = f
	msg := tgbotapi.NewMessage(cs.chatID, questions[f])

	switch f {
	case fieldType:
		msg.ReplyMarkup = typeKeyboard()
	case fieldMenu:
		msg.ReplyMarkup = menuKeyboard()
	case fieldPanel:
		msg.ReplyMarkup = panelKeyboard()
	case fieldLocation:
		msg.ReplyMarkup = locationKeyboard()
	case fieldNotes, fieldPanelNotes, fieldPurchNotes:
		msg.ReplyMarkup = skipKeyboard(f)
	case fieldDate:
		now := b.availability.Now()
		msg.Text += " You can also type it as YYYY-MM-DD."
		msg.ReplyMarkup = b.calendar(now.Year(), now.Month())
	case fieldTime:
		if cs.decision == nil || !cs.decision.Available {
			b.ask(cs, fieldDate)
			return
		}
		msg.ReplyMarkup = timeSlotsKeyboard(cs.decision.TimeSlots)
	}
	b.send(msg)
}

func (b *Bot) calendar(year int, month time.Month) tgbotapi.InlineKeyboardMarkup {
	return calendarKeyboard(year, month, func(d model.Date) bool {
		decision, err := b.availability.Resolve(d)
		return err != nil || decision.Available
	})
}

// continueFlow asks the next open question of the current step, or tries
// to leave the step once every question is answered.
func (b *Bot) continueFlow(ctx context.Context, cs *chatSession) {
	d := cs.wizard.Draft()
	step := cs.wizard.Step()
	if f := cs.nextMissing(step, &d); f != fieldNone {
		b.ask(cs, f)
		return
	}
	b.tryAdvance(ctx, cs)
}

// showStep presents the current step: the next open question, or a review
// of the answers with edit buttons.
func (b *Bot) showStep(cs *chatSession) {
	d := cs.wizard.Draft()
	step := cs.wizard.Step()
	if step == wizard.StepSummary {
		b.sendSummary(cs)
		return
	}
	if f := cs.nextMissing(step, &d); f != fieldNone {
		b.ask(cs, f)
		return
	}
	cs.awaiting = fieldNone
	fields := stepFields(step, &d)
	msg := tgbotapi.NewMessage(cs.chatID, describeStep(step, &d, fields))
	msg.ReplyMarkup = reviewKeyboard(fields)
	b.send(msg)
}

func (b *Bot) tryAdvance(ctx context.Context, cs *chatSession) {
	step := cs.wizard.Step()
	if step == wizard.StepSummary {
		b.sendSummary(cs)
		return
	}
	d := cs.wizard.Draft()
	if step == wizard.StepReservationDetails && d.PanelRequested() && cs.engine.State().Status == panel.StatusChecking {
		cs.advancePending = true
		cs.awaiting = fieldNone
		b.reply(cs.chatID, "Checking panel availability, one moment...")
		return
	}

	if err := cs.wizard.CanAdvance(b.gates(cs)); err != nil {
		b.reportGate(cs, err)
		return
	}
	if err := cs.wizard.Advance(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", cs.chatID).Msg("failed to persist step")
	}
	b.showStep(cs)
}

// gates re-resolves the chosen date first so clock-dependent rules such as
// the same-day cutoff hold at the moment of the check.
func (b *Bot) gates(cs *chatSession) wizard.Gates {
	if d := cs.wizard.Draft(); !d.ReservationDate.IsZero() {
		if decision, err := b.availability.Resolve(d.ReservationDate); err == nil {
			stale := cs.decision == nil || cs.decision.Available != decision.Available
			cs.decision = &decision
			if stale {
				b.evaluatePanel(cs)
			}
		}
	}
	return wizard.Gates{
		Now:      b.availability.Now(),
		Decision: cs.decision,
		Panel:    cs.engine.State(),
	}
}

// reportGate lists the gate violations and asks again for the first field
// that can be answered.
func (b *Bot) reportGate(cs *chatSession, err error) {
	var gateErr *wizard.GateError
	if !errors.As(err, &gateErr) {
		b.reply(cs.chatID, "Something went wrong, please try again.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Please fix the following:\n")
	for _, v := range gateErr.Violations {
		sb.WriteString("• " + v.Message + "\n")
	}
	b.reply(cs.chatID, strings.TrimSpace(sb.String()))

	if gateErr.Step != cs.wizard.Step() {
		return
	}
	for _, v := range gateErr.Violations {
		f := field(v.Field)
		if v.Field == "age" {
			f = fieldBirthDate
		}
		if _, ok := questions[f]; ok {
			b.ask(cs, f)
			return
		}
	}
	b.showStep(cs)
}

// applyText stores a typed answer for the awaited field. A rejected answer
// leaves the draft untouched and the returned message explains why.
func (b *Bot) applyText(ctx context.Context, cs *chatSession, text string) (string, error) {
	now := b.availability.Now()
	switch cs.awaiting {
	case fieldName, fieldEmail:
		f := cs.awaiting
		return "", cs.wizard.Update(ctx, func(d *model.Draft) error {
			if f == fieldName {
				d.Name = text
			} else {
				d.Email = text
			}
			if v := model.ValidatePersonalData(d, now).For(string(f)); v != nil {
				return v
			}
			return nil
		})
	case fieldPhone:
		phone, ok := model.NormalizePhone(text)
		if !ok {
			return "", &model.ValidationError{Field: string(fieldPhone), Message: "phone must have 10 or 11 digits"}
		}
		return "", cs.wizard.Update(ctx, func(d *model.Draft) error {
			d.Phone = phone
			return nil
		})
	case fieldBirthDate:
		date, err := parseUserDate(text)
		if err != nil {
			return "", &model.ValidationError{Field: string(fieldBirthDate), Message: "use YYYY-MM-DD or DD.MM.YYYY"}
		}
		return "", cs.wizard.Update(ctx, func(d *model.Draft) error {
			d.BirthDate = date
			errs := model.ValidatePersonalData(d, now)
			if v := errs.For("age"); v != nil {
				return v
			}
			if v := errs.For(string(fieldBirthDate)); v != nil {
				return v
			}
			return nil
		})
	case fieldPartySize:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return "", &model.ValidationError{Field: string(fieldPartySize), Message: "please send a number"}
		}
		if err := cs.wizard.Update(ctx, func(d *model.Draft) error { return d.SetPartySize(n) }); err != nil {
			return "", err
		}
		cs.answered[fieldPartySize] = true
		b.evaluatePanel(cs)
		return "", nil
	case fieldDate:
		date, err := parseUserDate(text)
		if err != nil {
			return "", &model.ValidationError{Field: string(fieldDate), Message: "use YYYY-MM-DD or DD.MM.YYYY"}
		}
		return b.setDate(ctx, cs, date)
	case fieldTime:
		return "", b.setTime(ctx, cs, strings.TrimSpace(text))
	case fieldNotes, fieldPanelNotes, fieldPurchNotes:
		f := cs.awaiting
		if err := cs.wizard.Update(ctx, func(d *model.Draft) error { return setNotes(d, f, text) }); err != nil {
			return "", err
		}
		cs.answered[f] = true
		return "", nil
	}
	return "Please use the buttons above, or /reset to start over.", nil
}

func setNotes(d *model.Draft, f field, text string) error {
	switch f {
	case fieldNotes:
		d.Notes = text
	case fieldPanelNotes:
		v, ok := d.Variant.(model.BirthdayVariant)
		if !ok {
			return &model.ValidationError{Field: string(f), Message: "panel notes only apply to birthdays"}
		}
		v.PanelNotes = text
		d.Variant = v
	case fieldPurchNotes:
		v, ok := d.Variant.(model.PartyVariant)
		if !ok {
			return &model.ValidationError{Field: string(f), Message: "purchase notes only apply to parties"}
		}
		v.PurchaseNotes = text
		d.Variant = v
	}
	if v := model.ValidateReservationDetails(d).For(string(f)); v != nil {
		return v
	}
	return nil
}

// setDate commits a reservation date and resolves its availability. A
// chosen time that the new date does not offer is cleared.
func (b *Bot) setDate(ctx context.Context, cs *chatSession, date model.Date) (string, error) {
	decision, err := b.availability.Resolve(date)
	if errors.Is(err, availability.ErrUnresolved) {
		return "Availability is still loading, please try again in a moment.", nil
	}
	if err != nil {
		return "", err
	}
	err = cs.wizard.Update(ctx, func(d *model.Draft) error {
		d.ReservationDate = date
		if d.DesiredTime != "" && !decision.HasSlot(d.DesiredTime) {
			d.DesiredTime = ""
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	cs.decision = &decision
	b.evaluatePanel(cs)
	if !decision.Available {
		return decision.Message, nil
	}
	return "", nil
}

func (b *Bot) setTime(ctx context.Context, cs *chatSession, slot string) error {
	if cs.decision == nil || !cs.decision.HasSlot(slot) {
		return &model.ValidationError{Field: string(fieldTime), Message: "desiredTime is not offered on this date"}
	}
	return cs.wizard.Update(ctx, func(d *model.Draft) error {
		d.DesiredTime = slot
		return nil
	})
}

// evaluatePanel feeds the current draft and decision to the panel engine.
func (b *Bot) evaluatePanel(cs *chatSession) {
	d := cs.wizard.Draft()
	cs.engine.Evaluate(&d, cs.decision)
}

func describeStep(step wizard.Step, d *model.Draft, fields []field) string {
	var sb strings.Builder
	switch step {
	case wizard.StepPersonalData:
		sb.WriteString("Personal data\n")
	case wizard.StepReservationDetails:
		sb.WriteString("Reservation details\n")
	}
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("%s: %s\n", fieldLabels[f], fieldValue(d, f)))
	}
	return strings.TrimSpace(sb.String())
}

func fieldValue(d *model.Draft, f field) string {
	switch f {
	case fieldName:
		return d.Name
	case fieldEmail:
		return d.Email
	case fieldPhone:
		return d.Phone
	case fieldBirthDate:
		return d.BirthDate.String()
	case fieldType:
		return typeLabels[d.Type()]
	case fieldMenu:
		p, _ := d.Variant.(model.PartyVariant)
		return menuLabels[p.Menu]
	case fieldPanel:
		if d.PanelRequested() {
			return "yes"
		}
		return "no"
	case fieldPanelNotes:
		v, _ := d.Variant.(model.BirthdayVariant)
		return dash(v.PanelNotes)
	case fieldPurchNotes:
		v, _ := d.Variant.(model.PartyVariant)
		return dash(v.PurchaseNotes)
	case fieldPartySize:
		return strconv.Itoa(d.PartySize)
	case fieldDate:
		return d.ReservationDate.String()
	case fieldTime:
		return d.DesiredTime
	case fieldLocation:
		return locationLabels[d.DesiredLocation]
	case fieldNotes:
		return dash(d.Notes)
	}
	return ""
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (b *Bot) sendSummary(cs *chatSession) {
	cs.awaiting = fieldNone
	d := cs.wizard.Draft()
	var sb strings.Builder
	sb.WriteString("Please check your reservation\n\n")
	sb.WriteString(describeStep(wizard.StepPersonalData, &d, stepFields(wizard.StepPersonalData, &d)))
	sb.WriteString("\n\n")
	sb.WriteString(describeStep(wizard.StepReservationDetails, &d, stepFields(wizard.StepReservationDetails, &d)))
	msg := tgbotapi.NewMessage(cs.chatID, sb.String())
	msg.ReplyMarkup = summaryKeyboard()
	b.send(msg)
}
