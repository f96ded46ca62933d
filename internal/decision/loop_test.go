package decision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/decision"
	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/scheduler"
	"github.com/nismod/smif/internal/store"
	"github.com/nismod/smif/internal/testutil"
)

func runLoop(t *testing.T, f *testutil.Fixture, module decision.Module, opts ...decision.LoopOption) (decision.Summary, error) {
	t.Helper()
	g, err := graph.Build(f.Sos)
	require.NoError(t, err)
	sched := scheduler.New(f.Store, f.Registry)
	loop := decision.NewLoop(f.Store, sched, module, opts...)
	return loop.Run(context.Background(), f.Run, f.Sos, g, f.Simulators)
}

func TestPreSpecifiedRunsOnePassPerTimestep(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.NoError(t, err)
	require.True(t, summary.Done())
	assert.Len(t, summary.Passes, 2)

	for _, timestep := range f.Run.Timesteps {
		final, err := f.Store.CompletedIteration(ctx, f.Run.Name, timestep)
		require.NoError(t, err)
		assert.Equal(t, 0, final)

		got, err := f.Store.ReadResults(ctx, f.Run.Name, "consume", "demand_met", timestep, 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(timestep)}, got.Values())
	}
}

func TestPreSpecifiedDecisionsFilterByBuildYear(t *testing.T) {
	module := &decision.PreSpecified{Strategies: []model.Strategy{{
		Type: "pre-specified",
		Interventions: []model.Intervention{
			{Name: "small_pump", BuildYear: 2020},
			{Name: "big_reservoir", BuildYear: 2030},
		},
	}}}

	decisions, err := module.Decide(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "small_pump", decisions[0].Name)

	decisions, err = module.Decide(context.Background(), 2030)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)
}

func TestStateIsPersistedPerTimestep(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)
	f.Run.Strategies = []model.Strategy{{
		Type:          "pre-specified",
		Interventions: []model.Intervention{{Name: "turbine", BuildYear: 2020}},
	}}

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.NoError(t, err)
	require.True(t, summary.Done())

	state, err := f.Store.ReadState(ctx, f.Run.Name, 2025, 0)
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, "turbine", state[0].Name)
}

// iteratingFixture couples two models on a convergence variable q: the
// relaxer emits a prescribed sequence of q values per iteration, the
// follower consumes q.
func iteratingFixture(t *testing.T, sequence []float64) *testutil.Fixture {
	t.Helper()

	q := testutil.AnnualSpec("q", "UK", "GWh")
	ack := testutil.AnnualSpec("ack", "UK", "GWh")

	relaxer := model.SectorModel{
		Model: model.Model{
			Name:    "relaxer",
			Outputs: map[string]data.Spec{"q": q},
		},
		ClassName: "relaxer_class",
	}
	follower := model.SectorModel{
		Model: model.Model{
			Name:    "follower",
			Inputs:  map[string]data.Spec{"q": q},
			Outputs: map[string]data.Spec{"ack": ack},
		},
		ClassName: "follower_class",
	}
	sos := model.SosModel{
		Name:         "coupled",
		SectorModels: []model.SectorModel{relaxer, follower},
		ModelDeps: []model.Dependency{
			{Source: "relaxer", SourceOutput: "q", Sink: "follower", SinkInput: "q"},
		},
	}
	require.NoError(t, model.ValidateSosModel(sos))

	sims := map[string]scheduler.Simulator{
		"relaxer": testutil.SimFunc(func(h *handle.DataHandle) error {
			i := h.Iteration()
			if i >= len(sequence) {
				i = len(sequence) - 1
			}
			return h.SetResultsValues("q", []float64{sequence[i]})
		}),
		"follower": testutil.SimFunc(func(h *handle.DataHandle) error {
			got, err := h.GetData("q")
			if err != nil {
				return err
			}
			return h.SetResultsValues("ack", got.Values())
		}),
	}

	return &testutil.Fixture{
		Sos: sos,
		Run: model.ModelRun{
			Name: "coupled_run", SosModel: "coupled", Timesteps: []int{2020},
			Decision: model.DecisionConfig{
				Module:               model.DecisionIterating,
				MaxIterations:        10,
				RelativeTolerance:    1e-3,
				ConvergenceVariables: []model.ConvergenceVariable{{Model: "relaxer", Output: "q"}},
			},
		},
		Store:      store.NewMemoryStore(),
		Registry:   convert.NewRegistry(),
		Simulators: sims,
	}
}

func TestIteratingLoopConverges(t *testing.T) {
	ctx := context.Background()
	f := iteratingFixture(t, []float64{10.0, 9.5, 9.48, 9.479})

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.NoError(t, err)
	require.True(t, summary.Done())

	// |9.479 - 9.48| / 9.48 < 1e-3 terminates at iteration 3.
	assert.Len(t, summary.Passes, 4)
	final, err := f.Store.CompletedIteration(ctx, f.Run.Name, 2020)
	require.NoError(t, err)
	assert.Equal(t, 3, final)

	got, err := f.Store.ReadResults(ctx, f.Run.Name, "relaxer", "q", 2020, final)
	require.NoError(t, err)
	assert.Equal(t, []float64{9.479}, got.Values())
}

func TestIteratingLoopExhaustsIterations(t *testing.T) {
	ctx := context.Background()
	// Oscillates, never settles.
	f := iteratingFixture(t, []float64{1, 2})
	f.Run.Decision.MaxIterations = 3
	f.Simulators["relaxer"] = testutil.SimFunc(func(h *handle.DataHandle) error {
		return h.SetResultsValues("q", []float64{float64(h.Iteration() % 2)})
	})

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.Error(t, err)
	assert.True(t, decision.IsConvergence(err))
	assert.False(t, summary.Done())

	// The last iteration's results remain readable.
	_, err = f.Store.ReadResults(ctx, f.Run.Name, "relaxer", "q", 2020, 2)
	require.NoError(t, err)
}

func TestLoopStopsAtFailedTimestep(t *testing.T) {
	f := testutil.LinearFixture(t)
	calls := 0
	f.Simulators["gen"] = testutil.SimFunc(func(h *handle.DataHandle) error {
		calls++
		return assert.AnError
	})

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.NoError(t, err)
	assert.False(t, summary.Done())
	assert.Len(t, summary.Passes, 1)
	assert.Equal(t, 1, calls)
}

func TestResumeSkipsCompletedTimesteps(t *testing.T) {
	f := testutil.LinearFixture(t)

	summary, err := runLoop(t, f, decision.NewModule(f.Run))
	require.NoError(t, err)
	require.True(t, summary.Done())

	// Every timestep recorded complete: a resumed run touches nothing.
	calls := 0
	gen := f.Simulators["gen"]
	f.Simulators["gen"] = testutil.SimFunc(func(h *handle.DataHandle) error {
		calls++
		return gen.Simulate(h)
	})

	summary, err = runLoop(t, f, decision.NewModule(f.Run), decision.WithResume())
	require.NoError(t, err)
	require.True(t, summary.Done())
	assert.Empty(t, summary.Passes)
	assert.Zero(t, calls)
}
