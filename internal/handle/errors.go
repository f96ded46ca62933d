package handle

import (
	"errors"
	"fmt"
)

// MissingDataError reports a read of data that should have been
// produced by a dependency but is absent from the store: an
// unsatisfied input, or a lagged read at the first timestep with no
// initial condition seeded. It fails the current job without touching
// peers.
type MissingDataError struct {
	// Model is the consuming model.
	Model string

	// Input is the input being read.
	Input string

	// Timestep and Iteration locate the read.
	Timestep  int
	Iteration int

	// Cause describes what was missing.
	Cause string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data for %s.%s at timestep %d iteration %d: %s",
		e.Model, e.Input, e.Timestep, e.Iteration, e.Cause)
}

// IsMissingData reports whether err is (or wraps) a MissingDataError.
func IsMissingData(err error) bool {
	var me *MissingDataError
	return errors.As(err, &me)
}
