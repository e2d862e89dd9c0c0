package model

import (
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// SubmissionRecord is the payload sent to the submission endpoint and kept
// in the offline queue. Records are immutable once built.
type SubmissionRecord struct {
	FormID             string             `json:"formId"`
	Timestamp          string             `json:"timestamp"`
	PersonalData       PersonalData       `json:"personalData"`
	ReservationType    TypeBlock          `json:"reservationType"`
	ReservationDetails ReservationDetails `json:"reservationDetails"`
}

type PersonalData struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	BirthDate Date   `json:"birthDate"`
}

type TypeBlock struct {
	Type           ReservationType `json:"type"`
	PanelRequested bool            `json:"panelRequested"`
	PanelNotes     *string         `json:"panelNotes"`
	MenuType       *MenuType       `json:"menuType"`
	PurchaseNotes  *string         `json:"purchaseNotes"`
}

type ReservationDetails struct {
	PartySize       int      `json:"partySize"`
	ReservationDate Date     `json:"reservationDate"`
	DesiredTime     string   `json:"desiredTime"`
	DesiredLocation Location `json:"desiredLocation"`
	Notes           *string  `json:"notes"`
}

// NewSubmissionRecord builds a record with a fresh form id. Every call yields
// a distinct id even for the same draft.
func NewSubmissionRecord(d *Draft, now time.Time) SubmissionRecord {
	rec := SubmissionRecord{
		FormID:    uuid.NewString(),
		Timestamp: now.UTC().Format(timestampLayout),
		PersonalData: PersonalData{
			Name:      d.Name,
			Email:     d.Email,
			Phone:     d.Phone,
			BirthDate: d.BirthDate,
		},
		ReservationType: TypeBlock{Type: d.Type()},
		ReservationDetails: ReservationDetails{
			PartySize:       d.PartySize,
			ReservationDate: d.ReservationDate,
			DesiredTime:     d.DesiredTime,
			DesiredLocation: d.DesiredLocation,
			Notes:           optional(d.Notes),
		},
	}

	switch v := d.Variant.(type) {
	case BirthdayVariant:
		rec.ReservationType.PanelRequested = v.PanelRequested
		rec.ReservationType.PanelNotes = optional(v.PanelNotes)
	case PartyVariant:
		menu := v.Menu
		rec.ReservationType.MenuType = &menu
		rec.ReservationType.PurchaseNotes = optional(v.PurchaseNotes)
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
