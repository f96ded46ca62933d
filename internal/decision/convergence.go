package decision

import (
	"context"
	"fmt"
	"math"

	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
)

// Iterating is the fixed-point decision module: each timestep is
// re-run until every convergence variable settles between consecutive
// iterations, or max_iterations is reached.
type Iterating struct {
	Strategies []model.Strategy
	Config     model.DecisionConfig
}

func (m *Iterating) Name() model.DecisionModuleKind {
	return model.DecisionIterating
}

func (m *Iterating) Decide(ctx context.Context, timestep int) ([]store.Decision, error) {
	pre := &PreSpecified{Strategies: m.Strategies}
	return pre.Decide(ctx, timestep)
}

// Converged compares the convergence variables between iteration and
// iteration-1 at one timestep. The criterion is the L-infinity norm of
// per-element deltas: every element of every variable must satisfy
// |x_i - x_prev| <= atol + rtol*|x_prev|. NaN never converges.
func (m *Iterating) Converged(ctx context.Context, st store.Store, run string, timestep, iteration int) (bool, error) {
	if iteration < 1 {
		return false, nil
	}
	rtol := m.Config.RelativeTolerance
	atol := m.Config.AbsoluteTolerance

	for _, cv := range m.Config.ConvergenceVariables {
		current, err := st.ReadResults(ctx, run, cv.Model, cv.Output, timestep, iteration)
		if err != nil {
			return false, fmt.Errorf("read convergence variable %s.%s: %w", cv.Model, cv.Output, err)
		}
		previous, err := st.ReadResults(ctx, run, cv.Model, cv.Output, timestep, iteration-1)
		if err != nil {
			return false, fmt.Errorf("read convergence variable %s.%s: %w", cv.Model, cv.Output, err)
		}
		cur, prev := current.Values(), previous.Values()
		if len(cur) != len(prev) {
			return false, fmt.Errorf("convergence variable %s.%s changed shape between iterations",
				cv.Model, cv.Output)
		}
		for i := range cur {
			delta := math.Abs(cur[i] - prev[i])
			if math.IsNaN(delta) || delta > atol+rtol*math.Abs(prev[i]) {
				return false, nil
			}
		}
	}
	return true, nil
}
