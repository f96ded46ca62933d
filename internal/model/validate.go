package model

import (
	"fmt"
	"sort"

	"github.com/nismod/smif/internal/data"
)

// ValidateSosModel checks the structural invariants of a composed
// system-of-systems before any execution:
//
//   - every model and spec is internally consistent
//   - every dependency endpoint names an existing model, output and
//     input
//   - every input of every included model is fed by exactly one
//     dependency
//   - scenario dependencies source from scenario models, model
//     dependencies from sector models
//
// Acyclicity is the graph package's concern; it is checked when the
// dependency graph is built.
func ValidateSosModel(sos SosModel) error {
	if sos.Name == "" {
		return &data.ValidationError{Kind: "sos_model", Name: sos.Name, Message: "missing name"}
	}

	seen := make(map[string]bool)
	for _, name := range sos.ModelNames() {
		if seen[name] {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Message: fmt.Sprintf("model %q included twice", name)}
		}
		seen[name] = true
	}

	for _, m := range sos.SectorModels {
		if err := validateSpecs(m.Model); err != nil {
			return err
		}
	}
	for _, m := range sos.ScenarioModels {
		if err := validateSpecs(m.Model); err != nil {
			return err
		}
	}

	for _, dep := range sos.Dependencies() {
		src, ok := sos.Lookup(dep.Source)
		if !ok {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "dependencies",
				Message: fmt.Sprintf("%s: source model not in system", dep)}
		}
		if _, ok := src.Outputs[dep.SourceOutput]; !ok {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "dependencies",
				Message: fmt.Sprintf("%s: source has no output %q", dep, dep.SourceOutput)}
		}
		sink, ok := sos.Lookup(dep.Sink)
		if !ok {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "dependencies",
				Message: fmt.Sprintf("%s: sink model not in system", dep)}
		}
		if _, ok := sink.Inputs[dep.SinkInput]; !ok {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "dependencies",
				Message: fmt.Sprintf("%s: sink has no input %q", dep, dep.SinkInput)}
		}
	}

	for _, dep := range sos.ScenarioDeps {
		if !sos.IsScenario(dep.Source) {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "scenario_dependencies",
				Message: fmt.Sprintf("%s: source is not a scenario", dep)}
		}
	}
	for _, dep := range sos.ModelDeps {
		if sos.IsScenario(dep.Source) {
			return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
				Field:   "model_dependencies",
				Message: fmt.Sprintf("%s: source is a scenario, declare it as a scenario dependency", dep)}
		}
	}

	// Each input must be satisfied by exactly one dependency.
	feeds := make(map[[2]string]int)
	for _, dep := range sos.Dependencies() {
		feeds[[2]string{dep.Sink, dep.SinkInput}]++
	}
	for _, m := range sos.SectorModels {
		for _, input := range m.InputNames() {
			switch n := feeds[[2]string{m.Name, input}]; {
			case n == 0:
				return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
					Message: fmt.Sprintf("input %s.%s is not fed by any dependency", m.Name, input)}
			case n > 1:
				return &data.ValidationError{Kind: "sos_model", Name: sos.Name,
					Message: fmt.Sprintf("input %s.%s is fed by %d dependencies", m.Name, input, n)}
			}
		}
	}

	return nil
}

func validateSpecs(m Model) error {
	for _, group := range []map[string]data.Spec{m.Inputs, m.Outputs, m.Parameters} {
		names := make([]string, 0, len(group))
		for name := range group {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := group[name].Validate(); err != nil {
				return &data.ValidationError{Kind: "sector_model", Name: m.Name,
					Field: name, Message: err.Error()}
			}
		}
	}
	return nil
}

// ValidateModelRun checks a model run record against its resolved
// SosModel: strictly increasing timesteps, known variant selections
// and a recognised decision module.
func ValidateModelRun(mr ModelRun, sos SosModel, scenarios map[string]Scenario) error {
	if mr.Name == "" {
		return &data.ValidationError{Kind: "model_run", Name: mr.Name, Message: "missing name"}
	}
	if len(mr.Timesteps) == 0 {
		return &data.ValidationError{Kind: "model_run", Name: mr.Name,
			Field: "timesteps", Message: "at least one timestep is required"}
	}
	for i := 1; i < len(mr.Timesteps); i++ {
		if mr.Timesteps[i] <= mr.Timesteps[i-1] {
			return &data.ValidationError{Kind: "model_run", Name: mr.Name,
				Field: "timesteps",
				Message: fmt.Sprintf("timesteps must be strictly increasing (%d then %d)",
					mr.Timesteps[i-1], mr.Timesteps[i])}
		}
	}

	for _, sm := range sos.ScenarioModels {
		variant, ok := mr.ScenarioVariants[sm.Scenario]
		if !ok {
			return &data.ValidationError{Kind: "model_run", Name: mr.Name,
				Field:   "scenarios",
				Message: fmt.Sprintf("no variant selected for scenario %q", sm.Scenario)}
		}
		if sc, ok := scenarios[sm.Scenario]; ok && !sc.HasVariant(variant) {
			return &data.ValidationError{Kind: "model_run", Name: mr.Name,
				Field:   "scenarios",
				Message: fmt.Sprintf("scenario %q has no variant %q", sm.Scenario, variant)}
		}
	}

	switch mr.Decision.Module {
	case "", DecisionPreSpecified, DecisionRuleBased:
	case DecisionIterating:
		if mr.Decision.MaxIterations <= 0 {
			return &data.ValidationError{Kind: "model_run", Name: mr.Name,
				Field: "decision", Message: "iterating module requires max_iterations > 0"}
		}
		if len(mr.Decision.ConvergenceVariables) == 0 {
			return &data.ValidationError{Kind: "model_run", Name: mr.Name,
				Field: "decision", Message: "iterating module requires convergence_variables"}
		}
		for _, cv := range mr.Decision.ConvergenceVariables {
			if _, ok := sos.OutputSpec(cv.Model, cv.Output); !ok {
				return &data.ValidationError{Kind: "model_run", Name: mr.Name,
					Field:   "decision",
					Message: fmt.Sprintf("convergence variable %s.%s does not exist", cv.Model, cv.Output)}
			}
		}
	default:
		return &data.ValidationError{Kind: "model_run", Name: mr.Name,
			Field:   "decision",
			Message: fmt.Sprintf("unknown decision module %q", mr.Decision.Module)}
	}

	return nil
}
