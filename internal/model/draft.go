// Package model holds the reservation draft, its enums and the submission record.
package model

import (
	"encoding/json"
	"fmt"
)

// ReservationType is the tag of the draft's variant.
type ReservationType string

const (
	TypeBirthday ReservationType = "birthday"
	TypeParty    ReservationType = "party"
	TypeMeeting  ReservationType = "meeting"
)

// MenuType is required for party reservations.
type MenuType string

const (
	MenuStandard     MenuType = "standard"
	MenuFixedPackage MenuType = "fixed_package"
)

// Location is the desired area of the venue.
type Location string

const (
	LocationNearStage   Location = "near_stage"
	LocationNearPlay    Location = "near_play"
	LocationOutdoorArea Location = "outdoor_area"
)

// Locations lists every known location in display order.
var Locations = []Location{LocationNearStage, LocationNearPlay, LocationOutdoorArea}

func (l Location) Valid() bool {
	switch l {
	case LocationNearStage, LocationNearPlay, LocationOutdoorArea:
		return true
	}
	return false
}

func (t ReservationType) Valid() bool {
	switch t {
	case TypeBirthday, TypeParty, TypeMeeting:
		return true
	}
	return false
}

func (m MenuType) Valid() bool {
	return m == MenuStandard || m == MenuFixedPackage
}

const (
	MinPartySize = 1
	MaxPartySize = 50
	MaxNotesLen  = 1000
)

// Variant is the type-specific part of a draft. Exactly one implementation
// exists per ReservationType and each carries only its own fields.
type Variant interface {
	Type() ReservationType
	isVariant()
}

// BirthdayVariant may request the decorative panel.
type BirthdayVariant struct {
	PanelRequested bool   `json:"panelRequested"`
	PanelNotes     string `json:"panelNotes" validate:"max=500"`
}

// PartyVariant must choose a menu.
type PartyVariant struct {
	Menu          MenuType `json:"menuType" validate:"required,oneof=standard fixed_package"`
	PurchaseNotes string   `json:"purchaseNotes" validate:"max=500"`
}

// MeetingVariant has no extra fields.
type MeetingVariant struct{}

func (BirthdayVariant) Type() ReservationType { return TypeBirthday }
func (PartyVariant) Type() ReservationType    { return TypeParty }
func (MeetingVariant) Type() ReservationType  { return TypeMeeting }

func (BirthdayVariant) isVariant() {}
func (PartyVariant) isVariant()    {}
func (MeetingVariant) isVariant()  {}

// NewVariant returns the empty variant for t.
func NewVariant(t ReservationType) (Variant, error) {
	switch t {
	case TypeBirthday:
		return BirthdayVariant{}, nil
	case TypeParty:
		return PartyVariant{}, nil
	case TypeMeeting:
		return MeetingVariant{}, nil
	}
	return nil, fmt.Errorf("unknown reservation type %q", t)
}

// Draft is the in-progress reservation request.
type Draft struct {
	Name      string
	Email     string
	Phone     string
	BirthDate Date

	Variant Variant

	PartySize       int
	ReservationDate Date
	DesiredTime     string
	DesiredLocation Location
	Notes           string
}

// NewDraft returns an empty draft with the minimum party size.
func NewDraft() Draft {
	return Draft{PartySize: MinPartySize}
}

// Type returns the variant tag or "" when no type was chosen yet.
func (d *Draft) Type() ReservationType {
	if d.Variant == nil {
		return ""
	}
	return d.Variant.Type()
}

// SetType switches the variant. Fields of the previous variant are dropped
// unless the type is unchanged.
func (d *Draft) SetType(t ReservationType) error {
	if d.Type() == t {
		return nil
	}
	v, err := NewVariant(t)
	if err != nil {
		return err
	}
	d.Variant = v
	return nil
}

// PanelRequested is true only for birthday drafts that asked for the panel.
func (d *Draft) PanelRequested() bool {
	b, ok := d.Variant.(BirthdayVariant)
	return ok && b.PanelRequested
}

// SetPanelRequested fails unless the draft is a birthday.
func (d *Draft) SetPanelRequested(requested bool) error {
	b, ok := d.Variant.(BirthdayVariant)
	if !ok {
		return &ValidationError{Field: "panelRequested", Message: "the panel is only available for birthdays"}
	}
	b.PanelRequested = requested
	d.Variant = b
	return nil
}

// SetMenu fails unless the draft is a party.
func (d *Draft) SetMenu(menu MenuType) error {
	p, ok := d.Variant.(PartyVariant)
	if !ok {
		return &ValidationError{Field: "menuType", Message: "menu type only applies to parties"}
	}
	if !menu.Valid() {
		return &ValidationError{Field: "menuType", Message: "menuType must be one of standard fixed_package"}
	}
	p.Menu = menu
	d.Variant = p
	return nil
}

// SetPartySize enforces the [1,50] range.
func (d *Draft) SetPartySize(n int) error {
	if n < MinPartySize || n > MaxPartySize {
		return &ValidationError{Field: "partySize", Message: fmt.Sprintf("partySize must be between %d and %d", MinPartySize, MaxPartySize)}
	}
	d.PartySize = n
	return nil
}

// draftJSON is the persisted layout of a Draft. The variant is flattened so
// stored drafts stay readable by other clients of the same key.
type draftJSON struct {
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	BirthDate       Date            `json:"birthDate"`
	ReservationType ReservationType `json:"reservationType"`
	PanelRequested  bool            `json:"panelRequested"`
	PanelNotes      string          `json:"panelNotes,omitempty"`
	MenuType        MenuType        `json:"menuType,omitempty"`
	PurchaseNotes   string          `json:"purchaseNotes,omitempty"`
	PartySize       int             `json:"partySize"`
	ReservationDate Date            `json:"reservationDate"`
	DesiredTime     string          `json:"desiredTime"`
	DesiredLocation Location        `json:"desiredLocation"`
	Notes           string          `json:"notes"`
}

func (d Draft) MarshalJSON() ([]byte, error) {
	out := draftJSON{
		Name:            d.Name,
		Email:           d.Email,
		Phone:           d.Phone,
		BirthDate:       d.BirthDate,
		ReservationType: d.Type(),
		PartySize:       d.PartySize,
		ReservationDate: d.ReservationDate,
		DesiredTime:     d.DesiredTime,
		DesiredLocation: d.DesiredLocation,
		Notes:           d.Notes,
	}
	switch v := d.Variant.(type) {
	case BirthdayVariant:
		out.PanelRequested = v.PanelRequested
		out.PanelNotes = v.PanelNotes
	case PartyVariant:
		out.MenuType = v.Menu
		out.PurchaseNotes = v.PurchaseNotes
	}
	return json.Marshal(out)
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	var in draftJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = Draft{
		Name:            in.Name,
		Email:           in.Email,
		Phone:           in.Phone,
		BirthDate:       in.BirthDate,
		PartySize:       in.PartySize,
		ReservationDate: in.ReservationDate,
		DesiredTime:     in.DesiredTime,
		DesiredLocation: in.DesiredLocation,
		Notes:           in.Notes,
	}
	switch in.ReservationType {
	case "":
	case TypeBirthday:
		d.Variant = BirthdayVariant{PanelRequested: in.PanelRequested, PanelNotes: in.PanelNotes}
	case TypeParty:
		d.Variant = PartyVariant{Menu: in.MenuType, PurchaseNotes: in.PurchaseNotes}
	case TypeMeeting:
		d.Variant = MeetingVariant{}
	default:
		return fmt.Errorf("unknown reservation type %q", in.ReservationType)
	}
	if d.PartySize == 0 {
		d.PartySize = MinPartySize
	}
	return nil
}
