package decision

import (
	"context"
	"log/slog"

	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/scheduler"
	"github.com/nismod/smif/internal/store"
)

// Pass records one scheduler invocation.
type Pass struct {
	Timestep  int
	Iteration int
	Result    scheduler.Result
}

// Summary aggregates a whole run: DONE iff every job of every pass is
// done.
type Summary struct {
	Passes []Pass

	// Err is the first failure across the run, nil when DONE.
	Err error
}

// Done reports whether the run completed cleanly.
func (s Summary) Done() bool {
	return s.Err == nil
}

// Loop drives the scheduler across the run's timesteps under a
// decision module.
type Loop struct {
	store  store.Store
	sched  *scheduler.Scheduler
	module Module
	resume bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithResume skips timesteps whose final iteration is already
// recorded, continuing a previously interrupted run from its persisted
// state.
func WithResume() LoopOption {
	return func(l *Loop) {
		l.resume = true
	}
}

// NewLoop builds a decision loop over a store and scheduler.
func NewLoop(st store.Store, sched *scheduler.Scheduler, module Module, opts ...LoopOption) *Loop {
	l := &Loop{store: st, sched: sched, module: module}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the model run: for each timestep, ask the module for
// the decisions in effect, persist them as state, run the scheduler,
// and iterate to a fixed point when the module requires it.
//
// A failed pass stops the loop: later timesteps could only read
// partial data through lagged edges. Everything already written
// remains in the store.
func (l *Loop) Run(
	ctx context.Context,
	mr model.ModelRun,
	sos model.SosModel,
	g *graph.DependencyGraph,
	sims map[string]scheduler.Simulator,
) (Summary, error) {
	var summary Summary

	iterating, _ := l.module.(*Iterating)

	for idx, timestep := range mr.Timesteps {
		if l.resume {
			if final, err := l.store.CompletedIteration(ctx, mr.Name, timestep); err == nil {
				slog.Info("timestep already complete, skipping",
					"run", mr.Name, "timestep", timestep, "final_iteration", final)
				continue
			} else if !store.IsNotFound(err) {
				return summary, err
			}
		}

		decisions, err := l.module.Decide(ctx, timestep)
		if err != nil {
			return summary, err
		}

		iteration := 0
		for {
			if err := l.store.WriteState(ctx, mr.Name, timestep, iteration, decisions); err != nil {
				return summary, err
			}

			result, err := l.sched.Run(ctx, scheduler.Request{
				Graph:             g,
				Sos:               sos,
				Simulators:        sims,
				Run:               mr.Name,
				Timesteps:         mr.Timesteps,
				TimestepIndex:     idx,
				Iteration:         iteration,
				NarrativeVariants: mr.NarrativeVariants,
			})
			summary.Passes = append(summary.Passes, Pass{
				Timestep: timestep, Iteration: iteration, Result: result,
			})
			if err != nil {
				return summary, err
			}
			if !result.Done() {
				summary.Err = result.Err
				return summary, nil
			}

			if iterating == nil {
				if err := l.store.WriteCompletedIteration(ctx, mr.Name, timestep, iteration); err != nil {
					return summary, err
				}
				break
			}

			converged, err := iterating.Converged(ctx, l.store, mr.Name, timestep, iteration)
			if err != nil {
				return summary, err
			}
			if converged {
				slog.Info("timestep converged",
					"run", mr.Name, "timestep", timestep, "iterations", iteration+1)
				if err := l.store.WriteCompletedIteration(ctx, mr.Name, timestep, iteration); err != nil {
					return summary, err
				}
				break
			}
			if iteration+1 >= iterating.Config.MaxIterations {
				// Record the last iteration as canonical for audit,
				// then surface the failure.
				if err := l.store.WriteCompletedIteration(ctx, mr.Name, timestep, iteration); err != nil {
					return summary, err
				}
				summary.Err = &ConvergenceError{Timestep: timestep, Iterations: iteration + 1}
				return summary, summary.Err
			}
			iteration++
		}
	}
	return summary, nil
}
