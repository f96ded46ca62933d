// Package handle gives a running model its only view of the world: a
// DataHandle scoped to one (model, timestep, iteration), reading
// inputs and parameters through the conversion layer and writing
// results back to the store.
//
// The handle carries its whole context explicitly. Models never see
// the store, the graph or each other; everything flows through here.
package handle

import (
	"context"
	"fmt"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
)

// DataHandle is a non-owning keyhole into the store for one model
// invocation. It is request-scoped: built per job, used on one
// goroutine, discarded when the job ends. The embedded context is the
// job's context.
type DataHandle struct {
	ctx       context.Context
	store     store.Store
	registry  *convert.Registry
	sos       model.SosModel
	run       string
	modelName string
	timesteps []int
	idx       int
	iteration int

	// narrativeVariants is the model run's narrative selection, used
	// to resolve parameter overrides.
	narrativeVariants map[string][]string
}

// New constructs a handle for one job.
func New(
	ctx context.Context,
	st store.Store,
	registry *convert.Registry,
	sos model.SosModel,
	run string,
	modelName string,
	timesteps []int,
	idx int,
	iteration int,
	narrativeVariants map[string][]string,
) *DataHandle {
	return &DataHandle{
		ctx:               ctx,
		store:             st,
		registry:          registry,
		sos:               sos,
		run:               run,
		modelName:         modelName,
		timesteps:         timesteps,
		idx:               idx,
		iteration:         iteration,
		narrativeVariants: narrativeVariants,
	}
}

// Context returns the job's context.
func (h *DataHandle) Context() context.Context { return h.ctx }

// ModelName returns the name of the model this handle serves.
func (h *DataHandle) ModelName() string { return h.modelName }

// RunName returns the model run name.
func (h *DataHandle) RunName() string { return h.run }

// Iteration returns the decision-loop iteration this job belongs to.
func (h *DataHandle) Iteration() int { return h.iteration }

// CurrentTimestep returns the timestep being simulated.
func (h *DataHandle) CurrentTimestep() int { return h.timesteps[h.idx] }

// BaseTimestep returns the first timestep of the run.
func (h *DataHandle) BaseTimestep() int { return h.timesteps[0] }

// IsBaseTimestep reports whether the current timestep is the first.
func (h *DataHandle) IsBaseTimestep() bool { return h.idx == 0 }

// PreviousTimestep returns the timestep before the current one in the
// run's sequence, and false at the base timestep.
func (h *DataHandle) PreviousTimestep() (int, bool) {
	if h.idx == 0 {
		return 0, false
	}
	return h.timesteps[h.idx-1], true
}

// Timesteps returns the run's full timestep sequence.
func (h *DataHandle) Timesteps() []int {
	return append([]int(nil), h.timesteps...)
}

// GetData reads the data feeding one input: it locates the unique
// dependency configured for the input, reads from the scenario
// namespace or the producing model's results (lagged for PREVIOUS
// edges), and converts to the input's spec.
func (h *DataHandle) GetData(input string) (data.DataArray, error) {
	return h.getDataAt(input, h.idx)
}

// GetPreviousTimestepData reads an input as it was at the previous
// timestep's final iteration.
func (h *DataHandle) GetPreviousTimestepData(input string) (data.DataArray, error) {
	if h.idx == 0 {
		return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: input,
			Timestep: h.CurrentTimestep(), Iteration: h.iteration,
			Cause: "no previous timestep at the base timestep"}
	}
	return h.getDataAt(input, h.idx-1)
}

// GetBaseTimestepData reads an input as it was at the run's first
// timestep.
func (h *DataHandle) GetBaseTimestepData(input string) (data.DataArray, error) {
	return h.getDataAt(input, 0)
}

func (h *DataHandle) getDataAt(input string, idx int) (data.DataArray, error) {
	sinkSpec, ok := h.sos.InputSpec(h.modelName, input)
	if !ok {
		return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: input,
			Timestep: h.timesteps[idx], Iteration: h.iteration,
			Cause: "model has no such input"}
	}
	dep, ok := h.sos.DependencyFor(h.modelName, input)
	if !ok {
		return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: input,
			Timestep: h.timesteps[idx], Iteration: h.iteration,
			Cause: "no dependency feeds this input"}
	}

	raw, err := h.readSource(dep, idx)
	if err != nil {
		if store.IsNotFound(err) {
			return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: input,
				Timestep: h.timesteps[idx], Iteration: h.iteration,
				Cause: err.Error()}
		}
		return data.DataArray{}, fmt.Errorf("read %s.%s: %w", h.modelName, input, err)
	}

	converted, err := h.registry.Convert(raw, sinkSpec)
	if err != nil {
		return data.DataArray{}, err
	}
	return converted, nil
}

func (h *DataHandle) readSource(dep model.Dependency, idx int) (data.DataArray, error) {
	timestep := h.timesteps[idx]

	if sm, ok := h.sos.ScenarioModel(dep.Source); ok {
		return h.store.ReadScenarioVariantData(h.ctx, sm.Scenario, sm.Variant, dep.SourceOutput, timestep)
	}

	switch dep.Offset() {
	case model.OffsetPrevious:
		if idx == 0 {
			// A lagged edge into the base timestep reads the seeded
			// initial condition.
			return h.store.ReadInitialCondition(h.ctx, h.run, dep.Source, dep.SourceOutput, timestep)
		}
		prev := h.timesteps[idx-1]
		final, err := h.store.CompletedIteration(h.ctx, h.run, prev)
		if err != nil {
			return data.DataArray{}, err
		}
		return h.store.ReadResults(h.ctx, h.run, dep.Source, dep.SourceOutput, prev, final)
	default:
		iteration := h.iteration
		if idx != h.idx {
			// Reads at another timestep see its final iteration.
			final, err := h.store.CompletedIteration(h.ctx, h.run, timestep)
			if err != nil {
				return data.DataArray{}, err
			}
			iteration = final
		}
		return h.store.ReadResults(h.ctx, h.run, dep.Source, dep.SourceOutput, timestep, iteration)
	}
}

// GetParameter resolves a parameter: narrative overrides first (the
// last selected variant providing the parameter wins), then the model
// default.
func (h *DataHandle) GetParameter(name string) (data.DataArray, error) {
	paramSpec, ok := h.paramSpec(name)
	if !ok {
		return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: name,
			Timestep: h.CurrentTimestep(), Iteration: h.iteration,
			Cause: "model has no such parameter"}
	}

	var resolved *data.DataArray
	for _, narrative := range h.sos.Narratives {
		if !narrativeProvides(narrative, h.modelName, name) {
			continue
		}
		for _, variant := range h.narrativeVariants[narrative.Name] {
			da, err := h.store.ReadNarrativeVariantData(h.ctx, narrative.Name, variant, name)
			if store.IsNotFound(err) {
				continue
			}
			if err != nil {
				return data.DataArray{}, fmt.Errorf("read narrative %s/%s: %w", narrative.Name, variant, err)
			}
			resolved = &da
		}
	}

	if resolved == nil {
		da, err := h.store.ReadModelParameterDefault(h.ctx, h.modelName, name)
		if err != nil {
			if store.IsNotFound(err) {
				return data.DataArray{}, &MissingDataError{Model: h.modelName, Input: name,
					Timestep: h.CurrentTimestep(), Iteration: h.iteration,
					Cause: err.Error()}
			}
			return data.DataArray{}, fmt.Errorf("read parameter %s: %w", name, err)
		}
		resolved = &da
	}

	return h.registry.Convert(*resolved, paramSpec)
}

func (h *DataHandle) paramSpec(name string) (data.Spec, bool) {
	m, ok := h.sos.Lookup(h.modelName)
	if !ok {
		return data.Spec{}, false
	}
	spec, ok := m.Parameters[name]
	return spec, ok
}

func narrativeProvides(n model.Narrative, modelName, param string) bool {
	for _, p := range n.Provides[modelName] {
		if p == param {
			return true
		}
	}
	return false
}

// SetResults validates a produced DataArray against the declared
// output spec and writes it at the handle's (run, model, timestep,
// iteration).
func (h *DataHandle) SetResults(output string, da data.DataArray) error {
	outputSpec, ok := h.sos.OutputSpec(h.modelName, output)
	if !ok {
		return fmt.Errorf("model %s has no output %q", h.modelName, output)
	}
	if !da.Spec.SameCoords(outputSpec) || da.Spec.Unit != outputSpec.Unit {
		return fmt.Errorf("results for %s.%s do not match spec: got %s, want %s",
			h.modelName, output, da.Spec.Pretty(), outputSpec.Pretty())
	}
	return h.store.WriteResults(h.ctx, h.run, h.modelName, output,
		h.CurrentTimestep(), h.iteration, da)
}

// SetResultsValues is SetResults from a raw value slice, using the
// declared output spec.
func (h *DataHandle) SetResultsValues(output string, values []float64) error {
	outputSpec, ok := h.sos.OutputSpec(h.modelName, output)
	if !ok {
		return fmt.Errorf("model %s has no output %q", h.modelName, output)
	}
	da, err := data.New(outputSpec, values)
	if err != nil {
		return err
	}
	return h.SetResults(output, da)
}

// GetState reads the decisions in effect for the handle's timestep.
func (h *DataHandle) GetState() ([]store.Decision, error) {
	return h.store.ReadState(h.ctx, h.run, h.CurrentTimestep(), h.iteration)
}
