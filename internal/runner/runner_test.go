package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/runner"
	"github.com/nismod/smif/internal/scheduler"
	"github.com/nismod/smif/internal/store"
	"github.com/nismod/smif/internal/testutil"
)

// writeLinearConfig seeds a store with the S1 two-node configuration.
func writeLinearConfig(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	f := testutil.LinearFixture(t)

	for _, sm := range f.Sos.SectorModels {
		require.NoError(t, st.WriteSectorModel(ctx, sm))
	}
	require.NoError(t, st.WriteScenario(ctx, model.Scenario{
		Name:     "population",
		Provides: map[string]data.Spec{"population": testutil.AnnualSpec("population", "UK", "people")},
		Variants: []model.ScenarioVariant{{Name: "central"}},
	}))
	require.NoError(t, st.WriteSosModel(ctx, model.SosModelConfig{
		Name:         "energy",
		SectorModels: []string{"gen", "consume"},
		Scenarios:    []string{"population"},
		ScenarioDeps: f.Sos.ScenarioDeps,
		ModelDeps:    f.Sos.ModelDeps,
	}))
	require.NoError(t, st.WriteModelRun(ctx, f.Run))

	population := testutil.AnnualSpec("population", "UK", "people")
	for _, timestep := range f.Run.Timesteps {
		da := data.MustNew(population, []float64{float64(timestep * 100)})
		require.NoError(t, st.WriteScenarioVariantData(ctx, "population", "central", "population", timestep, da))
	}
}

func linearSimulators() *runner.SimulatorRegistry {
	reg := runner.NewSimulatorRegistry()
	reg.Register("gen_class", func() scheduler.Simulator {
		return testutil.SimFunc(func(h *handle.DataHandle) error {
			pop, err := h.GetData("population")
			if err != nil {
				return err
			}
			return h.SetResultsValues("power", []float64{pop.Values()[0] / 100})
		})
	})
	reg.Register("consume_class", func() scheduler.Simulator {
		return testutil.SimFunc(func(h *handle.DataHandle) error {
			power, err := h.GetData("power")
			if err != nil {
				return err
			}
			return h.SetResultsValues("demand_met", power.Values())
		})
	})
	return reg
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	writeLinearConfig(t, st)

	r := runner.New(st, convert.NewRegistry(), linearSimulators())
	summary, err := r.Run(ctx, "energy_run")
	require.NoError(t, err)
	require.True(t, summary.Done())
	assert.Len(t, summary.Passes, 2)

	keys, err := st.AvailableResults(ctx, "energy_run")
	require.NoError(t, err)
	// population, gen and consume each wrote one output per timestep.
	assert.Len(t, keys, 6)
}

func TestRunUnknownModelRun(t *testing.T) {
	st := store.NewMemoryStore()
	r := runner.New(st, convert.NewRegistry(), runner.NewSimulatorRegistry())

	_, err := r.Run(context.Background(), "nope")
	assert.True(t, store.IsNotFound(err))
}

func TestRunRejectsUnregisteredSimulatorClass(t *testing.T) {
	st := store.NewMemoryStore()
	writeLinearConfig(t, st)

	r := runner.New(st, convert.NewRegistry(), runner.NewSimulatorRegistry())
	_, err := r.Run(context.Background(), "energy_run")
	require.Error(t, err)
	assert.True(t, data.IsValidation(err))
}

func TestRunRejectsCycles(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	writeLinearConfig(t, st)

	// Close the loop: gen also consumes consume's output, CURRENT.
	sm, err := st.ReadSectorModel(ctx, "gen")
	require.NoError(t, err)
	sm.Inputs["demand_met"] = testutil.AnnualSpec("demand_met", "UK", "GWh")
	require.NoError(t, st.WriteSectorModel(ctx, sm))

	cfg, err := st.ReadSosModel(ctx, "energy")
	require.NoError(t, err)
	cfg.ModelDeps = append(cfg.ModelDeps, model.Dependency{
		Source: "consume", SourceOutput: "demand_met", Sink: "gen", SinkInput: "demand_met",
	})
	require.NoError(t, st.WriteSosModel(ctx, cfg))

	r := runner.New(st, convert.NewRegistry(), linearSimulators())
	_, err = r.Run(ctx, "energy_run")
	require.Error(t, err)
	assert.True(t, graph.IsCircular(err))

	// Rejected before any job ran.
	keys, err := st.AvailableResults(ctx, "energy_run")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBeforeModelRunIsCalledOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	writeLinearConfig(t, st)

	setups := 0
	reg := linearSimulators()
	reg.Register("gen_class", func() scheduler.Simulator {
		return &countingSim{setups: &setups}
	})

	r := runner.New(st, convert.NewRegistry(), reg)
	summary, err := r.Run(ctx, "energy_run")
	require.NoError(t, err)
	require.True(t, summary.Done())
	assert.Equal(t, 1, setups)
}

type countingSim struct {
	setups *int
}

func (c *countingSim) BeforeModelRun(h *handle.DataHandle) error {
	*c.setups++
	return nil
}

func (c *countingSim) Simulate(h *handle.DataHandle) error {
	pop, err := h.GetData("population")
	if err != nil {
		return err
	}
	return h.SetResultsValues("power", []float64{pop.Values()[0] / 100})
}

// Lagged self-dependency end to end: the reservoir model reads its own
// previous-timestep level, starting from a seeded initial condition.
func TestLaggedRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	level := testutil.AnnualSpec("reservoir_level", "UK", "Ml")
	require.NoError(t, st.WriteSectorModel(ctx, model.SectorModel{
		Model: model.Model{
			Name:    "reservoir",
			Inputs:  map[string]data.Spec{"reservoir_level": level},
			Outputs: map[string]data.Spec{"reservoir_level": level},
		},
		ClassName: "reservoir_class",
		InitialConditions: []model.InitialCondition{
			{Output: "reservoir_level", Timestep: 2019, Values: []float64{500}},
		},
	}))
	require.NoError(t, st.WriteSosModel(ctx, model.SosModelConfig{
		Name:         "water",
		SectorModels: []string{"reservoir"},
		ModelDeps: []model.Dependency{
			{Source: "reservoir", SourceOutput: "reservoir_level",
				Sink: "reservoir", SinkInput: "reservoir_level",
				Timestep: model.OffsetPrevious},
		},
	}))
	require.NoError(t, st.WriteModelRun(ctx, model.ModelRun{
		Name: "water_run", SosModel: "water", Timesteps: []int{2020, 2021, 2022},
	}))

	var observed []float64
	reg := runner.NewSimulatorRegistry()
	reg.Register("reservoir_class", func() scheduler.Simulator {
		return testutil.SimFunc(func(h *handle.DataHandle) error {
			prev, err := h.GetData("reservoir_level")
			if err != nil {
				return err
			}
			observed = append(observed, prev.Values()[0])
			return h.SetResultsValues("reservoir_level", []float64{prev.Values()[0] - 20})
		})
	})

	r := runner.New(st, convert.NewRegistry(), reg)
	summary, err := r.Run(ctx, "water_run")
	require.NoError(t, err)
	require.True(t, summary.Done())

	// 2020 reads the 500 initial condition, then each year reads the
	// previous year's write.
	assert.Equal(t, []float64{500, 480, 460}, observed)

	final, err := st.ReadResults(ctx, "water_run", "reservoir", "reservoir_level", 2022, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{440}, final.Values())
}

func TestParallelRunnerMatchesSequential(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	writeLinearConfig(t, st)

	r := runner.New(st, convert.NewRegistry(), linearSimulators(), runner.WithMaxWorkers(4))
	summary, err := r.Run(ctx, "energy_run")
	require.NoError(t, err)
	require.True(t, summary.Done())

	got, err := st.ReadResults(ctx, "energy_run", "consume", "demand_met", 2025, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2025}, got.Values())
}
