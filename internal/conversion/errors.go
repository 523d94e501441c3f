package conversion

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/epub2tts/epub2tts/internal/catalog"
)

// Conversion errors
var (
	// ErrInvalidOption indicates a value outside its enumerated or numeric domain
	ErrInvalidOption = errors.New("invalid option")

	// ErrUnknownEngine indicates the engine is not in the registry
	ErrUnknownEngine = catalog.ErrUnknownEngine

	// ErrSpeakerNotSupported indicates the speaker does not belong to the engine
	ErrSpeakerNotSupported = errors.New("speaker not supported by engine")

	// ErrInvalidRange indicates a bad chapter range
	ErrInvalidRange = errors.New("invalid chapter range")

	// ErrExternalFailure indicates the conversion tool failed
	ErrExternalFailure = errors.New("external conversion failed")

	// ErrCanceled indicates the conversion was canceled before it finished
	ErrCanceled = errors.New("conversion canceled")
)

// ViolationKind classifies a validation failure.
type ViolationKind string

const (
	KindInvalidOption       ViolationKind = "invalid_option"
	KindUnknownEngine       ViolationKind = "unknown_engine"
	KindSpeakerNotSupported ViolationKind = "speaker_not_supported"
	KindInvalidRange        ViolationKind = "invalid_range"
)

// Sentinel returns the package error matching the kind.
func (k ViolationKind) Sentinel() error {
	switch k {
	case KindUnknownEngine:
		return ErrUnknownEngine
	case KindSpeakerNotSupported:
		return ErrSpeakerNotSupported
	case KindInvalidRange:
		return ErrInvalidRange
	default:
		return ErrInvalidOption
	}
}

// Violation is a single failed constraint.
type Violation struct {
	Field       string        `json:"field"`
	Kind        ViolationKind `json:"kind"`
	Message     string        `json:"message"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Unwrap returns the sentinel for the violation kind
func (v *Violation) Unwrap() error {
	return v.Kind.Sentinel()
}

// ValidationError reports every violated constraint of a request, not just
// the first one.
type ValidationError struct {
	Violations []*Violation
	err        error
}

func newValidationError(err error) *ValidationError {
	ve := &ValidationError{err: err}
	for _, e := range multierr.Errors(err) {
		var v *Violation
		if errors.As(e, &v) {
			ve.Violations = append(ve.Violations, v)
		}
	}
	return ve
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Violations), strings.Join(msgs, "; "))
}

// Unwrap exposes each violation so errors.Is matches every kind present.
func (e *ValidationError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Has reports whether a violation of kind exists for field. An empty field
// matches any field.
func (e *ValidationError) Has(field string, kind ViolationKind) bool {
	for _, v := range e.Violations {
		if v.Kind == kind && (field == "" || v.Field == field) {
			return true
		}
	}
	return false
}

// ExternalFailure is returned when the conversion tool exits abnormally or
// finishes without producing its artifact. Tail holds the last captured log
// lines.
type ExternalFailure struct {
	ExitCode int
	Tail     []string
	Cause    error
}

// Error implements the error interface
func (e *ExternalFailure) Error() string {
	msg := fmt.Sprintf("%s (exit code %d)", ErrExternalFailure, e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying errors
func (e *ExternalFailure) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExternalFailure}
	}
	return []error{ErrExternalFailure, e.Cause}
}

// TailText joins the captured tail for display.
func (e *ExternalFailure) TailText() string {
	return strings.Join(e.Tail, "\n")
}

// CanceledError is returned when a running conversion is stopped through its
// context. The partial output is left in place.
type CanceledError struct {
	Tail  []string
	Cause error
}

// Error implements the error interface
func (e *CanceledError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrCanceled, e.Cause)
	}
	return ErrCanceled.Error()
}

// Unwrap returns the underlying errors
func (e *CanceledError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCanceled}
	}
	return []error{ErrCanceled, e.Cause}
}

// TailOf returns the captured log tail carried by err, if any.
func TailOf(err error) []string {
	var ef *ExternalFailure
	if errors.As(err, &ef) {
		return ef.Tail
	}
	var ce *CanceledError
	if errors.As(err, &ce) {
		return ce.Tail
	}
	return nil
}
