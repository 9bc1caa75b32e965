// Package agenterr is the error taxonomy shared by the agent loop and its
// collaborators. Every error that reaches the loop is classified by category
// and severity; only CRITICAL errors end a run.
package agenterr

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryModel     Category = "MODEL"
	CategoryParsing   Category = "PARSING"
	CategoryExecution Category = "EXECUTION"
	CategorySafety    Category = "SAFETY"
)

type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText renders the severity by name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Error is a classified failure.
type Error struct {
	Category  Category
	Severity  Severity
	Retryable bool
	// Hint tells an operator (or the next prompt) what to try instead.
	Hint string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Category, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Model classifies an inference failure.
func Model(op string, err error, retryable bool) *Error {
	return &Error{
		Category:  CategoryModel,
		Severity:  SeverityMedium,
		Retryable: retryable,
		Hint:      "check the inference endpoint and credentials",
		Op:        op,
		Err:       err,
	}
}

// Parsing classifies a malformed model response. Never retried against the same response.
func Parsing(op string, err error) *Error {
	return &Error{
		Category: CategoryParsing,
		Severity: SeverityMedium,
		Hint:     "respond with exactly one JSON action object",
		Op:       op,
		Err:      err,
	}
}

// Safety classifies a denied action.
func Safety(op string, err error) *Error {
	return &Error{
		Category: CategorySafety,
		Severity: SeverityHigh,
		Hint:     "choose a different action that does not violate the safety policy",
		Op:       op,
		Err:      err,
	}
}

// Execution classifies an OS-level or capture failure.
func Execution(op string, err error) *Error {
	return &Error{
		Category: CategoryExecution,
		Severity: SeverityMedium,
		Hint:     "the display or input backend may be unavailable",
		Op:       op,
		Err:      err,
	}
}

// Critical returns a copy of e escalated to CRITICAL.
func Critical(e *Error) *Error {
	c := *e
	c.Severity = SeverityCritical
	c.Retryable = false
	return &c
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCritical reports whether err should stop the run.
func IsCritical(err error) bool {
	e, ok := As(err)
	return ok && e.Severity == SeverityCritical
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// CategoryOf returns the category of err, or "" when unclassified.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return ""
}
