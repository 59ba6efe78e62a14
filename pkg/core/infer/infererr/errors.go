// Package infererr defines the closed error taxonomy shared by every
// stage of the inference pipeline (parsing through execution).
package infererr

import "errors"

// Kind identifies which stage of the pipeline raised an error, so callers
// can distinguish e.g. a solver conflict from a runtime dtype dispatch
// miss without parsing message text.
type Kind int

const (
	// Parse marks a malformed externally supplied construct.
	Parse Kind = iota
	// ArityMismatch marks a declared vs actual input/output count mismatch.
	ArityMismatch
	// UnificationConflict marks two facts that cannot meet.
	UnificationConflict
	// ShapeMismatch specializes UnificationConflict for shapes.
	ShapeMismatch
	// BroadcastConflict marks incompatible non-1 dims at an aligned axis.
	BroadcastConflict
	// LoweringFailure marks an operator that cannot be typed.
	LoweringFailure
	// AnalysisStuck marks a fixed point reached with unresolved Any facts.
	AnalysisStuck
	// EvaluationFailure marks an operator runtime refusal.
	EvaluationFailure
	// NotFound marks a named node/outlet lookup miss.
	NotFound
	// InvalidInput marks a run-time tensor that disagrees with its fact.
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "Parse"
	case ArityMismatch:
		return "ArityMismatch"
	case UnificationConflict:
		return "UnificationConflict"
	case ShapeMismatch:
		return "ShapeMismatch"
	case BroadcastConflict:
		return "BroadcastConflict"
	case LoweringFailure:
		return "LoweringFailure"
	case AnalysisStuck:
		return "AnalysisStuck"
	case EvaluationFailure:
		return "EvaluationFailure"
	case NotFound:
		return "NotFound"
	case InvalidInput:
		return "InvalidInput"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error carrying a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged error around a cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
