// Package decision drives a model run across its timesteps: a
// decision module chooses the interventions in effect, the loop runs
// the scheduler once per timestep or iterates it to a fixed point.
package decision

import (
	"context"
	"sort"

	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
)

// Module is the planning policy driving a run. Decide returns the
// decisions effective at a timestep; they are persisted as state
// before the scheduler runs.
type Module interface {
	Name() model.DecisionModuleKind
	Decide(ctx context.Context, timestep int) ([]store.Decision, error)
}

// PreSpecified replays a fixed pipeline: every strategy intervention
// whose build year has arrived is in effect. No iteration.
type PreSpecified struct {
	Strategies []model.Strategy
}

func (m *PreSpecified) Name() model.DecisionModuleKind {
	return model.DecisionPreSpecified
}

func (m *PreSpecified) Decide(_ context.Context, timestep int) ([]store.Decision, error) {
	var decisions []store.Decision
	for _, strategy := range m.Strategies {
		for _, iv := range strategy.Interventions {
			if iv.BuildYear <= timestep {
				decisions = append(decisions, store.Decision{
					Name: iv.Name, BuildYear: iv.BuildYear,
				})
			}
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		if decisions[i].BuildYear != decisions[j].BuildYear {
			return decisions[i].BuildYear < decisions[j].BuildYear
		}
		return decisions[i].Name < decisions[j].Name
	})
	return decisions, nil
}

// Rule decides which planned interventions to commit at a timestep,
// given those already active. Implementations may read earlier results
// from the store they were built over.
type Rule interface {
	Evaluate(ctx context.Context, timestep int, active []store.Decision) ([]store.Decision, error)
}

// RuleBased commits interventions according to user rules evaluated
// each timestep. Like PreSpecified it does not iterate; it differs
// only in how the decision set is chosen. With no rules it behaves as
// PreSpecified over the same strategies.
type RuleBased struct {
	Strategies []model.Strategy
	Rules      []Rule

	active []store.Decision
}

func (m *RuleBased) Name() model.DecisionModuleKind {
	return model.DecisionRuleBased
}

func (m *RuleBased) Decide(ctx context.Context, timestep int) ([]store.Decision, error) {
	pre := &PreSpecified{Strategies: m.Strategies}
	decisions, err := pre.Decide(ctx, timestep)
	if err != nil {
		return nil, err
	}
	for _, rule := range m.Rules {
		decisions, err = rule.Evaluate(ctx, timestep, decisions)
		if err != nil {
			return nil, err
		}
	}
	m.active = decisions
	return decisions, nil
}

// NewModule constructs the decision module a model run configures.
// The iterating module additionally needs the store to compare
// iterations; the loop wires that in.
func NewModule(mr model.ModelRun) Module {
	switch mr.Decision.Module {
	case model.DecisionRuleBased:
		return &RuleBased{Strategies: mr.Strategies}
	case model.DecisionIterating:
		return &Iterating{
			Strategies: mr.Strategies,
			Config:     mr.Decision,
		}
	default:
		return &PreSpecified{Strategies: mr.Strategies}
	}
}
