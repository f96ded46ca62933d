package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/data"
)

func valueSpec(name string) data.Spec {
	return data.Spec{
		Name:   name,
		Dims:   []string{"value"},
		Coords: map[string][]string{"value": {"value"}},
	}
}

func validSos() SosModel {
	gen := SectorModel{
		Model: Model{
			Name:    "gen",
			Inputs:  map[string]data.Spec{"population": valueSpec("population")},
			Outputs: map[string]data.Spec{"power": valueSpec("power")},
		},
		ClassName: "gen_class",
	}
	consume := SectorModel{
		Model: Model{
			Name:    "consume",
			Inputs:  map[string]data.Spec{"power": valueSpec("power")},
			Outputs: map[string]data.Spec{"demand_met": valueSpec("demand_met")},
		},
		ClassName: "consume_class",
	}
	scenario := Scenario{
		Name:     "population",
		Provides: map[string]data.Spec{"population": valueSpec("population")},
		Variants: []ScenarioVariant{{Name: "central"}},
	}
	return SosModel{
		Name:           "energy",
		SectorModels:   []SectorModel{gen, consume},
		ScenarioModels: []ScenarioModel{ScenarioModelFrom(scenario, "central")},
		ScenarioDeps: []Dependency{
			{Source: "population", SourceOutput: "population", Sink: "gen", SinkInput: "population"},
		},
		ModelDeps: []Dependency{
			{Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power"},
		},
	}
}

func validRun() ModelRun {
	return ModelRun{
		Name: "run", SosModel: "energy", Timesteps: []int{2020, 2025},
		ScenarioVariants: map[string]string{"population": "central"},
	}
}

func scenarios() map[string]Scenario {
	return map[string]Scenario{
		"population": {
			Name:     "population",
			Provides: map[string]data.Spec{"population": valueSpec("population")},
			Variants: []ScenarioVariant{{Name: "central"}},
		},
	}
}

func TestValidSosModelPasses(t *testing.T) {
	require.NoError(t, ValidateSosModel(validSos()))
}

func TestUnfedInputRejected(t *testing.T) {
	sos := validSos()
	sos.ScenarioDeps = nil
	err := ValidateSosModel(sos)
	require.Error(t, err)
	assert.True(t, data.IsValidation(err))
	assert.Contains(t, err.Error(), "gen.population")
}

func TestDoublyFedInputRejected(t *testing.T) {
	sos := validSos()
	sos.ModelDeps = append(sos.ModelDeps, Dependency{
		Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power",
		Timestep: OffsetPrevious,
	})
	err := ValidateSosModel(sos)
	assert.True(t, data.IsValidation(err))
}

func TestUnknownDependencyEndpointsRejected(t *testing.T) {
	missingSource := validSos()
	missingSource.ModelDeps[0].Source = "nowhere"
	assert.True(t, data.IsValidation(ValidateSosModel(missingSource)))

	missingOutput := validSos()
	missingOutput.ModelDeps[0].SourceOutput = "no_such_output"
	assert.True(t, data.IsValidation(ValidateSosModel(missingOutput)))

	missingSink := validSos()
	missingSink.ModelDeps[0].Sink = "nowhere"
	assert.True(t, data.IsValidation(ValidateSosModel(missingSink)))
}

func TestScenarioDepMustSourceScenario(t *testing.T) {
	sos := validSos()
	sos.ScenarioDeps = append(sos.ScenarioDeps, Dependency{
		Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power",
	})
	// Also remove the now-duplicated model dep to isolate the check.
	sos.ModelDeps = nil
	assert.True(t, data.IsValidation(ValidateSosModel(sos)))
}

func TestModelRunTimestepsStrictlyIncreasing(t *testing.T) {
	mr := validRun()
	mr.Timesteps = []int{2020, 2020}
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.Timesteps = []int{2025, 2020}
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.Timesteps = nil
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.Timesteps = []int{2020, 2025, 2030}
	require.NoError(t, ValidateModelRun(mr, validSos(), scenarios()))
}

func TestModelRunVariantSelectionChecked(t *testing.T) {
	mr := validRun()
	mr.ScenarioVariants = nil
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.ScenarioVariants = map[string]string{"population": "no_such_variant"}
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))
}

func TestModelRunDecisionModuleChecked(t *testing.T) {
	mr := validRun()
	mr.Decision.Module = "genetic-algorithm"
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.Decision = DecisionConfig{Module: DecisionIterating}
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))

	mr.Decision = DecisionConfig{
		Module: DecisionIterating, MaxIterations: 5,
		ConvergenceVariables: []ConvergenceVariable{{Model: "gen", Output: "power"}},
	}
	require.NoError(t, ValidateModelRun(mr, validSos(), scenarios()))

	mr.Decision.ConvergenceVariables = []ConvergenceVariable{{Model: "gen", Output: "nope"}}
	assert.True(t, data.IsValidation(ValidateModelRun(mr, validSos(), scenarios())))
}

func TestDependencyString(t *testing.T) {
	dep := Dependency{Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power"}
	assert.Equal(t, "gen.power -> consume.power", dep.String())

	dep.Timestep = OffsetPrevious
	assert.Equal(t, "gen.power ~> consume.power", dep.String())
}
