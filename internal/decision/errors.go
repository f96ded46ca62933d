package decision

import (
	"errors"
	"fmt"
)

// ConvergenceError reports that an iterating decision loop exhausted
// max_iterations without the convergence variables settling. The last
// iteration's results remain in the store.
type ConvergenceError struct {
	Timestep   int
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("timestep %d did not converge within %d iterations",
		e.Timestep, e.Iterations)
}

// IsConvergence reports whether err is (or wraps) a ConvergenceError.
func IsConvergence(err error) bool {
	var ce *ConvergenceError
	return errors.As(err, &ce)
}
