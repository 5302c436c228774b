// Package validator collects field and non-field errors for Bot API methods and
// configuration values before anything is sent over the wire.
package validator

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/en9inerd/go-tgbot/httperrors"
)

// Validatable is implemented by values that can check themselves
type Validatable interface {
	Validate(v *Validator)
}

// Validator accumulates validation errors
type Validator struct {
	FieldErrors    map[string][]string `json:"fieldErrors,omitempty"`
	NonFieldErrors []string            `json:"nonFieldErrors,omitempty"`
}

// Valid reports whether no errors were recorded
func (v *Validator) Valid() bool {
	return len(v.FieldErrors) == 0 && len(v.NonFieldErrors) == 0
}

// AddFieldError records an error for key
func (v *Validator) AddFieldError(key, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string][]string)
	}
	v.FieldErrors[key] = append(v.FieldErrors[key], message)
}

// AddNonFieldError records an error not tied to a field
func (v *Validator) AddNonFieldError(message string) {
	v.NonFieldErrors = append(v.NonFieldErrors, message)
}

// CheckField records message for key when ok is false
func (v *Validator) CheckField(ok bool, key, message string) {
	if !ok {
		v.AddFieldError(key, message)
	}
}

// Check records a non-field message when ok is false
func (v *Validator) Check(ok bool, message string) {
	if !ok {
		v.AddNonFieldError(message)
	}
}

// JSON returns the recorded errors encoded as JSON
func (v *Validator) JSON() []byte {
	b, _ := json.Marshal(v)
	return b
}

// Err returns nil when valid, otherwise a *httperrors.ValidationError holding a copy of
// the recorded errors.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	fields := make(map[string][]string, len(v.FieldErrors))
	for k, msgs := range v.FieldErrors {
		fields[k] = slices.Clone(msgs)
	}
	return httperrors.NewValidationError(fields, slices.Clone(v.NonFieldErrors))
}

// NotBlank returns true if value contains something other than whitespace
func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

// Blank returns true if value is empty or whitespace only
func Blank(value string) bool {
	return !NotBlank(value)
}

// MaxChars returns true if value has at most n runes
func MaxChars(value string, n int) bool {
	return utf8.RuneCountInString(value) <= n
}

// Matches returns true if value matches rx
func Matches(value string, rx *regexp.Regexp) bool {
	return rx.MatchString(value)
}

func MinInt(value, min int) bool { return value >= min }

func MaxInt(value, max int) bool { return value <= max }

func MinDuration(value, min time.Duration) bool { return value >= min }

// PermittedValue returns true if value is one of permitted
func PermittedValue[T comparable](value T, permitted ...T) bool {
	return slices.Contains(permitted, value)
}
