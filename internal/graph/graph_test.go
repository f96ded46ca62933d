package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
)

func spec(name string) data.Spec {
	return data.Spec{
		Name:   name,
		Dims:   []string{"value"},
		Coords: map[string][]string{"value": {"value"}},
	}
}

func node(name string, inputs, outputs []string) model.SectorModel {
	m := model.Model{
		Name:    name,
		Inputs:  make(map[string]data.Spec),
		Outputs: make(map[string]data.Spec),
	}
	for _, in := range inputs {
		m.Inputs[in] = spec(in)
	}
	for _, out := range outputs {
		m.Outputs[out] = spec(out)
	}
	return model.SectorModel{Model: m}
}

func TestTopoOrderRespectsEdges(t *testing.T) {
	sos := model.SosModel{
		Name: "linear",
		SectorModels: []model.SectorModel{
			node("consume", []string{"power"}, []string{"demand_met"}),
			node("gen", nil, []string{"power"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "gen", SourceOutput: "power", Sink: "consume", SinkInput: "power"},
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	assert.Equal(t, []string{"gen", "consume"}, g.TopoOrder())
	assert.Equal(t, []string{"gen"}, g.Roots())
}

func TestTopoOrderBreaksTiesLexicographically(t *testing.T) {
	sos := model.SosModel{
		Name: "fanout",
		SectorModels: []model.SectorModel{
			node("zeta", []string{"x"}, nil),
			node("alpha", []string{"x"}, nil),
			node("mid", []string{"x"}, nil),
			node("source", nil, []string{"x"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "source", SourceOutput: "x", Sink: "zeta", SinkInput: "x"},
			{Source: "source", SourceOutput: "x", Sink: "alpha", SinkInput: "x"},
			{Source: "source", SourceOutput: "x", Sink: "mid", SinkInput: "x"},
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	assert.Equal(t, []string{"source", "alpha", "mid", "zeta"}, g.TopoOrder())
}

func TestCurrentCycleRejected(t *testing.T) {
	sos := model.SosModel{
		Name: "cyclic",
		SectorModels: []model.SectorModel{
			node("A", []string{"in"}, []string{"out"}),
			node("B", []string{"in"}, []string{"out"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "A", SourceOutput: "out", Sink: "B", SinkInput: "in"},
			{Source: "B", SourceOutput: "out", Sink: "A", SinkInput: "in"},
		},
	}

	_, err := Build(sos)
	require.Error(t, err)
	assert.True(t, IsCircular(err))

	var ce *CircularDependencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"A", "B", "A"}, ce.Cycle)
}

func TestCurrentSelfLoopRejected(t *testing.T) {
	sos := model.SosModel{
		Name: "selfloop",
		SectorModels: []model.SectorModel{
			node("reservoir", []string{"level"}, []string{"level"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "reservoir", SourceOutput: "level", Sink: "reservoir", SinkInput: "level"},
		},
	}

	_, err := Build(sos)
	assert.True(t, IsCircular(err))
}

func TestLaggedSelfDependencyAccepted(t *testing.T) {
	sos := model.SosModel{
		Name: "lagged",
		SectorModels: []model.SectorModel{
			node("reservoir", []string{"reservoir_level"}, []string{"reservoir_level"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "reservoir", SourceOutput: "reservoir_level",
				Sink: "reservoir", SinkInput: "reservoir_level",
				Timestep: model.OffsetPrevious},
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	assert.Equal(t, []string{"reservoir"}, g.TopoOrder())
	assert.Len(t, g.LaggedEdges(), 1)
	assert.Empty(t, g.CurrentPredecessors("reservoir"))
}

func TestLaggedCycleBetweenModelsAccepted(t *testing.T) {
	sos := model.SosModel{
		Name: "coupled",
		SectorModels: []model.SectorModel{
			node("energy", []string{"water"}, []string{"power"}),
			node("water", []string{"power"}, []string{"water"}),
		},
		ModelDeps: []model.Dependency{
			{Source: "energy", SourceOutput: "power", Sink: "water", SinkInput: "power"},
			{Source: "water", SourceOutput: "water", Sink: "energy", SinkInput: "water",
				Timestep: model.OffsetPrevious},
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	assert.Equal(t, []string{"energy", "water"}, g.TopoOrder())
}

func TestDescendants(t *testing.T) {
	sos := model.SosModel{
		Name: "diamond",
		SectorModels: []model.SectorModel{
			node("a", nil, []string{"x"}),
			node("b", []string{"x"}, []string{"y"}),
			node("c", []string{"x"}, []string{"z"}),
			node("d", []string{"y", "z"}, nil),
		},
		ModelDeps: []model.Dependency{
			{Source: "a", SourceOutput: "x", Sink: "b", SinkInput: "x"},
			{Source: "a", SourceOutput: "x", Sink: "c", SinkInput: "x"},
			{Source: "b", SourceOutput: "y", Sink: "d", SinkInput: "y"},
			{Source: "c", SourceOutput: "z", Sink: "d", SinkInput: "z"},
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"b": true, "c": true, "d": true}, g.Descendants("a"))
	assert.Equal(t, map[string]bool{"d": true}, g.Descendants("b"))
	assert.Empty(t, g.Descendants("d"))
}

func TestTopoOrderIsDeterministic(t *testing.T) {
	sos := model.SosModel{
		Name: "wide",
		SectorModels: []model.SectorModel{
			node("m1", nil, []string{"x"}), node("m2", nil, []string{"x"}),
			node("m3", nil, []string{"x"}), node("m4", nil, []string{"x"}),
		},
	}

	g, err := Build(sos)
	require.NoError(t, err)
	first := g.TopoOrder()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.TopoOrder())
	}
}
