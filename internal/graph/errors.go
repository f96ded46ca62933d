package graph

import (
	"errors"
	"fmt"
	"strings"
)

// CircularDependencyError reports a dependency cycle reachable through
// CURRENT-offset edges only. Lagged (PREVIOUS) edges are exempt: a
// model may depend on its own previous-timestep output.
type CircularDependencyError struct {
	// Cycle is the cycle path, first node repeated at the end:
	// ["A", "B", "A"].
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

// IsCircular reports whether err is (or wraps) a
// CircularDependencyError.
func IsCircular(err error) bool {
	var ce *CircularDependencyError
	return errors.As(err, &ce)
}
