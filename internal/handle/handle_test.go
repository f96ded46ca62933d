package handle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
	"github.com/nismod/smif/internal/testutil"
)

func newHandle(f *testutil.Fixture, modelName string, idx, iteration int) *handle.DataHandle {
	return handle.New(context.Background(), f.Store, f.Registry, f.Sos,
		f.Run.Name, modelName, f.Run.Timesteps, idx, iteration, f.Run.NarrativeVariants)
}

func TestGetDataFromScenario(t *testing.T) {
	f := testutil.LinearFixture(t)
	h := newHandle(f, "gen", 0, 0)

	da, err := h.GetData("population")
	require.NoError(t, err)
	assert.Equal(t, []float64{202000}, da.Values())
}

func TestGetDataFromCurrentResults(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)

	power := data.MustNew(testutil.AnnualSpec("power", "UK", "GWh"), []float64{42})
	require.NoError(t, f.Store.WriteResults(ctx, f.Run.Name, "gen", "power", 2020, 0, power))

	h := newHandle(f, "consume", 0, 0)
	da, err := h.GetData("power")
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, da.Values())
}

func TestGetDataMissingIsTyped(t *testing.T) {
	f := testutil.LinearFixture(t)
	h := newHandle(f, "consume", 0, 0)

	_, err := h.GetData("power")
	require.Error(t, err)
	assert.True(t, handle.IsMissingData(err))

	_, err = h.GetData("no_such_input")
	assert.True(t, handle.IsMissingData(err))
}

func TestGetDataAppliesConversion(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)
	testutil.QuadrantConversion(t, f.Registry)

	// Rewire the fixture so gen produces per-quadrant power while
	// consume still expects a single UK value.
	quadrantPower := data.Spec{
		Name:   "power",
		Dims:   []string{"region", "interval"},
		Coords: map[string][]string{"region": {"NW", "NE", "SW", "SE"}, "interval": {"annual"}},
		Roles: map[string]data.Role{
			"region":   data.RoleRegion,
			"interval": data.RoleInterval,
		},
		Unit: "GWh", DType: "float64", Extensive: true,
	}
	for i := range f.Sos.SectorModels {
		if f.Sos.SectorModels[i].Name == "gen" {
			f.Sos.SectorModels[i].Outputs["power"] = quadrantPower
		}
	}

	regional := data.MustNew(quadrantPower, []float64{10, 20, 30, 40})
	require.NoError(t, f.Store.WriteResults(ctx, f.Run.Name, "gen", "power", 2020, 0, regional))

	h := newHandle(f, "consume", 0, 0)
	da, err := h.GetData("power")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, da.Values()[0], 1e-9)
}

func laggedFixture(t *testing.T) (*testutil.Fixture, data.Spec) {
	t.Helper()
	level := testutil.AnnualSpec("reservoir_level", "UK", "Ml")
	reservoir := model.SectorModel{
		Model: model.Model{
			Name:    "reservoir",
			Inputs:  map[string]data.Spec{"reservoir_level": level},
			Outputs: map[string]data.Spec{"reservoir_level": level},
		},
		ClassName: "reservoir_class",
	}
	sos := model.SosModel{
		Name:         "water",
		SectorModels: []model.SectorModel{reservoir},
		ModelDeps: []model.Dependency{
			{Source: "reservoir", SourceOutput: "reservoir_level",
				Sink: "reservoir", SinkInput: "reservoir_level",
				Timestep: model.OffsetPrevious},
		},
	}
	require.NoError(t, model.ValidateSosModel(sos))

	return &testutil.Fixture{
		Sos: sos,
		Run: model.ModelRun{
			Name: "water_run", SosModel: "water",
			Timesteps: []int{2020, 2021, 2022},
		},
		Store:    store.NewMemoryStore(),
		Registry: convert.NewRegistry(),
	}, level
}

func TestLaggedReadUsesInitialConditionAtBase(t *testing.T) {
	ctx := context.Background()
	f, level := laggedFixture(t)

	seeded := data.MustNew(level, []float64{500})
	require.NoError(t, f.Store.WriteInitialCondition(ctx, "water_run", "reservoir", "reservoir_level", 2019, seeded))

	h := newHandle(f, "reservoir", 0, 0)
	da, err := h.GetData("reservoir_level")
	require.NoError(t, err)
	assert.Equal(t, []float64{500}, da.Values())
}

func TestLaggedReadUsesFinalIterationOfPreviousTimestep(t *testing.T) {
	ctx := context.Background()
	f, level := laggedFixture(t)

	// Two iterations at 2020; iteration 1 is recorded as final.
	stale := data.MustNew(level, []float64{490})
	final := data.MustNew(level, []float64{480})
	require.NoError(t, f.Store.WriteResults(ctx, "water_run", "reservoir", "reservoir_level", 2020, 0, stale))
	require.NoError(t, f.Store.WriteResults(ctx, "water_run", "reservoir", "reservoir_level", 2020, 1, final))
	require.NoError(t, f.Store.WriteCompletedIteration(ctx, "water_run", 2020, 1))

	h := newHandle(f, "reservoir", 1, 0)
	da, err := h.GetData("reservoir_level")
	require.NoError(t, err)
	assert.Equal(t, []float64{480}, da.Values())
}

func TestLaggedReadMissingInitialConditionFails(t *testing.T) {
	f, _ := laggedFixture(t)
	h := newHandle(f, "reservoir", 0, 0)

	_, err := h.GetData("reservoir_level")
	assert.True(t, handle.IsMissingData(err))
}

func TestSetResultsValidatesSpec(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)
	h := newHandle(f, "gen", 0, 0)

	power := data.MustNew(testutil.AnnualSpec("power", "UK", "GWh"), []float64{42})
	require.NoError(t, h.SetResults("power", power))

	got, err := f.Store.ReadResults(ctx, f.Run.Name, "gen", "power", 2020, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, got.Values())

	wrongUnit := data.MustNew(testutil.AnnualSpec("power", "UK", "MWh"), []float64{42})
	assert.Error(t, h.SetResults("power", wrongUnit))

	assert.Error(t, h.SetResults("no_such_output", power))
}

func TestGetParameterDefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	f := testutil.LinearFixture(t)

	efficiency := testutil.ScalarSpec("efficiency", "")
	for i := range f.Sos.SectorModels {
		if f.Sos.SectorModels[i].Name == "gen" {
			f.Sos.SectorModels[i].Parameters = map[string]data.Spec{"efficiency": efficiency}
		}
	}
	require.NoError(t, f.Store.WriteModelParameterDefault(ctx, "gen", "efficiency",
		data.MustNew(efficiency, []float64{0.4})))

	h := newHandle(f, "gen", 0, 0)
	da, err := h.GetParameter("efficiency")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4}, da.Values())

	// A narrative override takes precedence once selected.
	f.Sos.Narratives = []model.Narrative{{
		Name:     "high_tech",
		Provides: map[string][]string{"gen": {"efficiency"}},
		Variants: []string{"optimistic"},
	}}
	f.Run.NarrativeVariants = map[string][]string{"high_tech": {"optimistic"}}
	require.NoError(t, f.Store.WriteNarrativeVariantData(ctx, "high_tech", "optimistic", "efficiency",
		data.MustNew(efficiency, []float64{0.6})))

	h = newHandle(f, "gen", 0, 0)
	da, err = h.GetParameter("efficiency")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6}, da.Values())
}

func TestTimestepAccessors(t *testing.T) {
	f := testutil.LinearFixture(t)

	h := newHandle(f, "gen", 0, 0)
	assert.Equal(t, 2020, h.CurrentTimestep())
	assert.Equal(t, 2020, h.BaseTimestep())
	assert.True(t, h.IsBaseTimestep())
	_, ok := h.PreviousTimestep()
	assert.False(t, ok)

	h = newHandle(f, "gen", 1, 2)
	assert.Equal(t, 2025, h.CurrentTimestep())
	assert.False(t, h.IsBaseTimestep())
	prev, ok := h.PreviousTimestep()
	assert.True(t, ok)
	assert.Equal(t, 2020, prev)
	assert.Equal(t, 2, h.Iteration())

	_, err := h.GetPreviousTimestepData("population")
	require.NoError(t, err)

	base := newHandle(f, "gen", 0, 0)
	_, err = base.GetPreviousTimestepData("population")
	assert.True(t, handle.IsMissingData(err))
}
