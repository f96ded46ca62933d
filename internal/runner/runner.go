// Package runner is the model-run entry point: it resolves and
// validates the configuration, seeds the store namespace for the run,
// and constructs and drives the decision loop.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/decision"
	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/scheduler"
	"github.com/nismod/smif/internal/store"
)

// SimulatorRegistry maps sector-model class names to simulator
// factories. The CLI owns one and registers the compiled-in wrappers;
// tests register fakes. A fresh simulator is built per run.
type SimulatorRegistry struct {
	factories map[string]func() scheduler.Simulator
}

// NewSimulatorRegistry returns an empty registry.
func NewSimulatorRegistry() *SimulatorRegistry {
	return &SimulatorRegistry{factories: make(map[string]func() scheduler.Simulator)}
}

// Register adds a factory under a class name, replacing any previous
// registration.
func (r *SimulatorRegistry) Register(className string, factory func() scheduler.Simulator) {
	r.factories[className] = factory
}

// New builds a simulator for a class name.
func (r *SimulatorRegistry) New(className string) (scheduler.Simulator, bool) {
	factory, ok := r.factories[className]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// ClassNames lists the registered class names, sorted.
func (r *SimulatorRegistry) ClassNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner validates and executes model runs against a store.
type Runner struct {
	store      store.Store
	registry   *convert.Registry
	simulators *SimulatorRegistry
	maxWorkers int
	resume     bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxWorkers enables parallel scheduling within each timestep.
func WithMaxWorkers(n int) Option {
	return func(r *Runner) {
		r.maxWorkers = n
	}
}

// WithResume continues an interrupted run from its persisted state.
func WithResume() Option {
	return func(r *Runner) {
		r.resume = true
	}
}

// New creates a Runner.
func New(st store.Store, registry *convert.Registry, simulators *SimulatorRegistry, opts ...Option) *Runner {
	r := &Runner{
		store:      st,
		registry:   registry,
		simulators: simulators,
		maxWorkers: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named model run. The Summary aggregates every
// scheduler pass; Summary.Done() is the DONE/FAILED verdict. A
// returned error means the run never started (validation, missing
// config) or the store broke mid-run.
func (r *Runner) Run(ctx context.Context, runName string) (decision.Summary, error) {
	mr, sos, err := r.Resolve(ctx, runName)
	if err != nil {
		return decision.Summary{}, err
	}

	g, err := graph.Build(sos)
	if err != nil {
		return decision.Summary{}, err
	}

	sims, err := r.buildSimulators(sos)
	if err != nil {
		return decision.Summary{}, err
	}

	if err := r.seedInitialConditions(ctx, mr, sos); err != nil {
		return decision.Summary{}, err
	}

	if err := r.beforeModelRun(ctx, mr, sos, sims); err != nil {
		return decision.Summary{}, err
	}

	sched := scheduler.New(r.store, r.registry, scheduler.WithMaxWorkers(r.maxWorkers))
	module := decision.NewModule(mr)
	var loopOpts []decision.LoopOption
	if r.resume {
		loopOpts = append(loopOpts, decision.WithResume())
	}
	loop := decision.NewLoop(r.store, sched, module, loopOpts...)

	slog.Info("model run starting", "run", mr.Name, "sos_model", sos.Name,
		"timesteps", mr.Timesteps, "decision_module", module.Name())

	summary, err := loop.Run(ctx, mr, sos, g, sims)
	if err != nil && !decision.IsConvergence(err) {
		slog.Error("model run failed", "run", mr.Name, "error", err)
		return summary, err
	}
	if summary.Done() {
		slog.Info("model run done", "run", mr.Name, "passes", len(summary.Passes))
	} else {
		slog.Error("model run failed", "run", mr.Name, "error", summary.Err)
	}
	return summary, nil
}

// Resolve reads and composes the full configuration for a run and
// validates every invariant that can be checked before execution.
func (r *Runner) Resolve(ctx context.Context, runName string) (model.ModelRun, model.SosModel, error) {
	mr, err := r.store.ReadModelRun(ctx, runName)
	if err != nil {
		return model.ModelRun{}, model.SosModel{}, err
	}
	cfg, err := r.store.ReadSosModel(ctx, mr.SosModel)
	if err != nil {
		return model.ModelRun{}, model.SosModel{}, err
	}

	sos := model.SosModel{
		Name:         cfg.Name,
		ScenarioDeps: cfg.ScenarioDeps,
		ModelDeps:    cfg.ModelDeps,
		Narratives:   cfg.Narratives,
	}

	for _, name := range cfg.SectorModels {
		sm, err := r.store.ReadSectorModel(ctx, name)
		if err != nil {
			return model.ModelRun{}, model.SosModel{}, err
		}
		sos.SectorModels = append(sos.SectorModels, sm)
	}

	scenarios := make(map[string]model.Scenario, len(cfg.Scenarios))
	for _, name := range cfg.Scenarios {
		sc, err := r.store.ReadScenario(ctx, name)
		if err != nil {
			return model.ModelRun{}, model.SosModel{}, err
		}
		scenarios[name] = sc
		sos.ScenarioModels = append(sos.ScenarioModels,
			model.ScenarioModelFrom(sc, mr.ScenarioVariants[name]))
	}

	if err := model.ValidateSosModel(sos); err != nil {
		return model.ModelRun{}, model.SosModel{}, err
	}
	if err := model.ValidateModelRun(mr, sos, scenarios); err != nil {
		return model.ModelRun{}, model.SosModel{}, err
	}
	return mr, sos, nil
}

func (r *Runner) buildSimulators(sos model.SosModel) (map[string]scheduler.Simulator, error) {
	sims := make(map[string]scheduler.Simulator, len(sos.SectorModels))
	for _, sm := range sos.SectorModels {
		sim, ok := r.simulators.New(sm.ClassName)
		if !ok {
			return nil, &data.ValidationError{Kind: "sector_model", Name: sm.Name,
				Field:   "class_name",
				Message: fmt.Sprintf("no simulator registered for class %q", sm.ClassName)}
		}
		sims[sm.Name] = sim
	}
	return sims, nil
}

// seedInitialConditions writes each sector model's configured initial
// conditions into the run namespace, so lagged edges can read at the
// base timestep.
func (r *Runner) seedInitialConditions(ctx context.Context, mr model.ModelRun, sos model.SosModel) error {
	for _, sm := range sos.SectorModels {
		for _, ic := range sm.InitialConditions {
			spec, ok := sm.Outputs[ic.Output]
			if !ok {
				return &data.ValidationError{Kind: "sector_model", Name: sm.Name,
					Field:   "initial_conditions",
					Message: fmt.Sprintf("model has no output %q", ic.Output)}
			}
			da, err := data.New(spec, ic.Values)
			if err != nil {
				return &data.ValidationError{Kind: "sector_model", Name: sm.Name,
					Field: "initial_conditions", Message: err.Error()}
			}
			if err := r.store.WriteInitialCondition(ctx, mr.Name, sm.Name, ic.Output, ic.Timestep, da); err != nil {
				return err
			}
		}
	}
	return nil
}

// beforeModelRun gives each sector model its one-shot setup call with
// a handle scoped to the base timestep.
func (r *Runner) beforeModelRun(ctx context.Context, mr model.ModelRun, sos model.SosModel, sims map[string]scheduler.Simulator) error {
	names := make([]string, 0, len(sims))
	for name := range sims {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := handle.New(ctx, r.store, r.registry, sos, mr.Name, name,
			mr.Timesteps, 0, 0, mr.NarrativeVariants)
		if err := sims[name].BeforeModelRun(h); err != nil {
			return &scheduler.ModelRunError{Model: name, Timestep: mr.BaseTimestep(),
				Iteration: 0, Err: fmt.Errorf("before_model_run: %w", err)}
		}
	}
	return nil
}
