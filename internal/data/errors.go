package data

import (
	"errors"
	"fmt"
)

// ValidationError reports a configuration record that fails the model
// invariants. Validation runs before any execution; a ValidationError
// aborts the model run.
type ValidationError struct {
	// Kind is the configuration kind ("model_run", "sos_model",
	// "sector_model", "scenario", "spec").
	Kind string

	// Name identifies the failing record.
	Name string

	// Field names the offending field, when known.
	Field string

	// Message is a human-readable description.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %q: %s: %s", e.Kind, e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Name, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
