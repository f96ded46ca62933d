package store

import (
	"errors"
	"fmt"
)

// NotFoundError reports a read of an absent key in any namespace.
type NotFoundError struct {
	// Kind is the namespace or record kind ("model_run", "results",
	// "scenario_data", "state", ...).
	Kind string

	// Key renders the missing key.
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func resultKeyString(run, modelName, output string, timestep, iteration int) string {
	return fmt.Sprintf("%s/%s/%s@%d#%d", run, modelName, output, timestep, iteration)
}
