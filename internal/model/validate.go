package model

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	val "github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^\(\d{2}\) \d{5}-\d{4}$`)
	timePattern  = regexp.MustCompile(`^\d{2}:\d{2}$`)

	validate *val.Validate

	messages = map[string]string{
		"required": "{field} is required",
		"min":      "{field} must be at least {param} characters",
		"max":      "{field} must be at most {param} characters",
		"gte":      "{field} must be greater than or equal to {param}",
		"lte":      "{field} must be less than or equal to {param}",
		"oneof":    "{field} must be one of {param}",
		"email":    "{field} must be a valid email address",
		"phone":    "{field} must look like (XX) XXXXX-XXXX",
		"hhmm":     "{field} must be in HH:MM format",
	}
)

func init() {
	validate = val.New(val.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	if err := validate.RegisterValidation("phone", func(fl val.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("hhmm", func(fl val.FieldLevel) bool {
		return timePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidationErrors collects every violation found in one pass.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

type personalInput struct {
	Name      string `json:"name" validate:"required,min=3"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,phone"`
	BirthDate string `json:"birthDate" validate:"required"`
	Age       *int   `json:"age" validate:"omitempty,gte=18,lte=120"`
}

type detailsInput struct {
	ReservationType string `json:"reservationType" validate:"required,oneof=birthday party meeting"`
	PartySize       int    `json:"partySize" validate:"gte=1,lte=50"`
	ReservationDate string `json:"reservationDate" validate:"required"`
	DesiredTime     string `json:"desiredTime" validate:"required,hhmm"`
	DesiredLocation string `json:"desiredLocation" validate:"required,oneof=near_stage near_play outdoor_area"`
	Notes           string `json:"notes" validate:"max=1000"`
}

// ValidatePersonalData checks the personal data block. The age is computed
// from the birth date against now.
func ValidatePersonalData(d *Draft, now time.Time) ValidationErrors {
	in := personalInput{
		Name:      strings.TrimSpace(d.Name),
		Email:     strings.TrimSpace(d.Email),
		Phone:     d.Phone,
		BirthDate: d.BirthDate.String(),
	}
	if !d.BirthDate.IsZero() {
		age := d.BirthDate.Age(now)
		in.Age = &age
	}
	return collect(validate.Struct(in))
}

// ValidateReservationDetails checks the type, its variant and the details
// block. Date availability and panel state are checked by the wizard gates.
func ValidateReservationDetails(d *Draft) ValidationErrors {
	in := detailsInput{
		ReservationType: string(d.Type()),
		PartySize:       d.PartySize,
		ReservationDate: d.ReservationDate.String(),
		DesiredTime:     d.DesiredTime,
		DesiredLocation: string(d.DesiredLocation),
		Notes:           d.Notes,
	}
	errs := collect(validate.Struct(in))

	switch v := d.Variant.(type) {
	case BirthdayVariant:
		errs = append(errs, collect(validate.Struct(v))...)
	case PartyVariant:
		errs = append(errs, collect(validate.Struct(v))...)
	}
	return errs
}

// Validate runs every field check and returns nil or ValidationErrors.
func (d *Draft) Validate(now time.Time) error {
	errs := append(ValidatePersonalData(d, now), ValidateReservationDetails(d)...)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func collect(err error) ValidationErrors {
	if err == nil {
		return nil
	}
	var valErrors val.ValidationErrors
	if !errors.As(err, &valErrors) {
		return ValidationErrors{{Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(valErrors))
	for _, fe := range valErrors {
		out = append(out, &ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe val.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return fe.Error()
	}
	msg = strings.ReplaceAll(msg, "{field}", fe.Field())
	return strings.ReplaceAll(msg, "{param}", fe.Param())
}

// NormalizePhone turns 10 or 11 digits in any punctuation into
// "(XX) XXXXX-XXXX". Ten-digit numbers get a leading 9 on the subscriber part.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	switch len(s) {
	case 10:
		s = s[:2] + "9" + s[2:]
	case 11:
	default:
		return "", false
	}
	return "(" + s[:2] + ") " + s[2:7] + "-" + s[7:], true
}

// For returns the first error for field or nil.
func (es ValidationErrors) For(field string) *ValidationError {
	for _, e := range es {
		if e.Field == field {
			return e
		}
	}
	return nil
}
