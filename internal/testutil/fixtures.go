// Package testutil builds the small coupled systems the package tests
// run against: a generator/consumer pair fed by a population scenario,
// with simulators defined as plain functions.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/scheduler"
	"github.com/nismod/smif/internal/store"
)

// SimFunc adapts a function to the Simulator contract, with a no-op
// BeforeModelRun.
type SimFunc func(h *handle.DataHandle) error

func (f SimFunc) BeforeModelRun(*handle.DataHandle) error { return nil }

func (f SimFunc) Simulate(h *handle.DataHandle) error { return f(h) }

// AnnualSpec returns a single-region, single-interval spec in the
// given unit, extensive.
func AnnualSpec(name, region, unit string) data.Spec {
	return data.Spec{
		Name:   name,
		Dims:   []string{"region", "interval"},
		Coords: map[string][]string{"region": {region}, "interval": {"annual"}},
		Roles: map[string]data.Role{
			"region":   data.RoleRegion,
			"interval": data.RoleInterval,
		},
		Unit:      unit,
		DType:     "float64",
		Extensive: true,
	}
}

// ScalarSpec returns a one-element spec with a single plain dimension.
func ScalarSpec(name, unit string) data.Spec {
	return data.Spec{
		Name:   name,
		Dims:   []string{"value"},
		Coords: map[string][]string{"value": {"value"}},
		Unit:   unit,
		DType:  "float64",
	}
}

// Fixture is a ready-to-run two-model system: scenario "population"
// feeds sector model "gen", whose output "power" feeds sector model
// "consume".
type Fixture struct {
	Sos        model.SosModel
	Run        model.ModelRun
	Store      *store.MemoryStore
	Registry   *convert.Registry
	Simulators map[string]scheduler.Simulator
}

// LinearFixture builds the S1 shape: gen -> consume over one UK
// region, annual interval, GWh, timesteps 2020 and 2025. The gen
// simulator reads population and emits power = population / 100; the
// consume simulator reads power and republishes it as demand_met.
func LinearFixture(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()

	powerOut := AnnualSpec("power", "UK", "GWh")
	powerIn := AnnualSpec("power", "UK", "GWh")
	population := AnnualSpec("population", "UK", "people")
	demandMet := AnnualSpec("demand_met", "UK", "GWh")

	gen := model.SectorModel{
		Model: model.Model{
			Name:    "gen",
			Inputs:  map[string]data.Spec{"population": population},
			Outputs: map[string]data.Spec{"power": powerOut},
		},
		ClassName: "gen_class",
	}
	consume := model.SectorModel{
		Model: model.Model{
			Name:    "consume",
			Inputs:  map[string]data.Spec{"power": powerIn},
			Outputs: map[string]data.Spec{"demand_met": demandMet},
		},
		ClassName: "consume_class",
	}

	scenario := model.Scenario{
		Name:     "population",
		Provides: map[string]data.Spec{"population": population},
		Variants: []model.ScenarioVariant{{Name: "central"}},
	}

	sos := model.SosModel{
		Name:           "energy",
		SectorModels:   []model.SectorModel{gen, consume},
		ScenarioModels: []model.ScenarioModel{model.ScenarioModelFrom(scenario, "central")},
		ScenarioDeps: []model.Dependency{
			{Source: "population", SourceOutput: "population", Sink: "gen", SinkInput: "population"},
		},
		ModelDeps: []model.Dependency{
			{Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power"},
		},
	}
	require.NoError(t, model.ValidateSosModel(sos))

	st := store.NewMemoryStore()
	for _, timestep := range []int{2020, 2025} {
		da := data.MustNew(population, []float64{float64(timestep * 100)})
		require.NoError(t, st.WriteScenarioVariantData(ctx, "population", "central", "population", timestep, da))
	}

	sims := map[string]scheduler.Simulator{
		"gen": SimFunc(func(h *handle.DataHandle) error {
			pop, err := h.GetData("population")
			if err != nil {
				return err
			}
			return h.SetResultsValues("power", []float64{pop.Values()[0] / 100})
		}),
		"consume": SimFunc(func(h *handle.DataHandle) error {
			power, err := h.GetData("power")
			if err != nil {
				return err
			}
			return h.SetResultsValues("demand_met", power.Values())
		}),
	}

	return &Fixture{
		Sos: sos,
		Run: model.ModelRun{
			Name:             "energy_run",
			SosModel:         "energy",
			Timesteps:        []int{2020, 2025},
			ScenarioVariants: map[string]string{"population": "central"},
		},
		Store:      st,
		Registry:   convert.NewRegistry(),
		Simulators: sims,
	}
}

// QuadrantConversion registers the S2 region mapping: four quadrant
// regions aggregating onto a single UK region, unit squares.
func QuadrantConversion(t *testing.T, reg *convert.Registry) {
	t.Helper()
	quadrants := []convert.Region{
		{Name: "NW", Boxes: []convert.Box{{MinX: 0, MinY: 1, MaxX: 1, MaxY: 2}}},
		{Name: "NE", Boxes: []convert.Box{{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2}}},
		{Name: "SW", Boxes: []convert.Box{{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}}},
		{Name: "SE", Boxes: []convert.Box{{MinX: 1, MinY: 0, MaxX: 2, MaxY: 1}}},
	}
	uk := []convert.Region{
		{Name: "UK", Boxes: []convert.Box{{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}}},
	}
	require.NoError(t, reg.RegisterDimConversion(convert.RegionConversion("region", quadrants, uk)))
	require.NoError(t, reg.RegisterDimConversion(convert.RegionConversion("region", uk, quadrants)))
}
