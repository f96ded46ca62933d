package model

import (
	"fmt"
	"sort"

	"github.com/nismod/smif/internal/data"
)

// Offset distinguishes a dependency read within the current timestep
// from one lagged to the previous timestep. PREVIOUS edges are exempt
// from cycle checks and never gate execution within a timestep.
type Offset string

const (
	OffsetCurrent  Offset = "current"
	OffsetPrevious Offset = "previous"
)

// Dependency couples one model's output to another model's input.
// Scenario dependencies and model dependencies share this shape; a
// scenario dependency's Source names a ScenarioModel.
type Dependency struct {
	Source       string `json:"source" yaml:"source"`
	SourceOutput string `json:"source_output" yaml:"source_output"`
	Sink         string `json:"sink" yaml:"sink"`
	SinkInput    string `json:"sink_input" yaml:"sink_input"`
	Timestep     Offset `json:"timestep,omitempty" yaml:"timestep,omitempty"`
}

// Offset returns the dependency's timestep offset, defaulting to
// CURRENT when the config leaves the field empty.
func (d Dependency) Offset() Offset {
	if d.Timestep == OffsetPrevious {
		return OffsetPrevious
	}
	return OffsetCurrent
}

func (d Dependency) String() string {
	arrow := "->"
	if d.Offset() == OffsetPrevious {
		arrow = "~>" // lagged
	}
	return fmt.Sprintf("%s.%s %s %s.%s", d.Source, d.SourceOutput, arrow, d.Sink, d.SinkInput)
}

// SosModel is a named collection of coupled sector models, scenarios
// and narratives, with the dependency lists that form the graph.
type SosModel struct {
	Name           string          `json:"name" yaml:"name"`
	SectorModels   []SectorModel   `json:"-" yaml:"-"`
	ScenarioModels []ScenarioModel `json:"-" yaml:"-"`
	ScenarioDeps   []Dependency    `json:"scenario_dependencies,omitempty" yaml:"scenario_dependencies,omitempty"`
	ModelDeps      []Dependency    `json:"model_dependencies,omitempty" yaml:"model_dependencies,omitempty"`
	Narratives     []Narrative     `json:"narratives,omitempty" yaml:"narratives,omitempty"`
}

// SosModelConfig is the on-disk record: model membership by name.
// The runner resolves names into the full SosModel.
type SosModelConfig struct {
	Name         string       `json:"name" yaml:"name"`
	SectorModels []string     `json:"sector_models" yaml:"sector_models"`
	Scenarios    []string     `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	ScenarioDeps []Dependency `json:"scenario_dependencies,omitempty" yaml:"scenario_dependencies,omitempty"`
	ModelDeps    []Dependency `json:"model_dependencies,omitempty" yaml:"model_dependencies,omitempty"`
	Narratives   []Narrative  `json:"narratives,omitempty" yaml:"narratives,omitempty"`
}

// Dependencies returns scenario and model dependencies as one list,
// scenario dependencies first.
func (s SosModel) Dependencies() []Dependency {
	deps := make([]Dependency, 0, len(s.ScenarioDeps)+len(s.ModelDeps))
	deps = append(deps, s.ScenarioDeps...)
	deps = append(deps, s.ModelDeps...)
	return deps
}

// ModelNames returns every node name, scenario models included,
// sorted.
func (s SosModel) ModelNames() []string {
	names := make([]string, 0, len(s.SectorModels)+len(s.ScenarioModels))
	for _, m := range s.SectorModels {
		names = append(names, m.Name)
	}
	for _, m := range s.ScenarioModels {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the common metadata for a named node, scenario or
// sector.
func (s SosModel) Lookup(name string) (Model, bool) {
	for _, m := range s.SectorModels {
		if m.Name == name {
			return m.Model, true
		}
	}
	for _, m := range s.ScenarioModels {
		if m.Name == name {
			return m.Model, true
		}
	}
	return Model{}, false
}

// SectorModel returns the named sector model.
func (s SosModel) SectorModel(name string) (SectorModel, bool) {
	for _, m := range s.SectorModels {
		if m.Name == name {
			return m, true
		}
	}
	return SectorModel{}, false
}

// ScenarioModel returns the named scenario model.
func (s SosModel) ScenarioModel(name string) (ScenarioModel, bool) {
	for _, m := range s.ScenarioModels {
		if m.Name == name {
			return m, true
		}
	}
	return ScenarioModel{}, false
}

// IsScenario reports whether the named node is a scenario model.
func (s SosModel) IsScenario(name string) bool {
	_, ok := s.ScenarioModel(name)
	return ok
}

// DependenciesInto returns every dependency whose sink is the named
// model, in declaration order (scenario dependencies first).
func (s SosModel) DependenciesInto(sink string) []Dependency {
	var deps []Dependency
	for _, d := range s.Dependencies() {
		if d.Sink == sink {
			deps = append(deps, d)
		}
	}
	return deps
}

// DependencyFor returns the unique dependency feeding one input of one
// model, or false if none is configured.
func (s SosModel) DependencyFor(sink, input string) (Dependency, bool) {
	for _, d := range s.Dependencies() {
		if d.Sink == sink && d.SinkInput == input {
			return d, true
		}
	}
	return Dependency{}, false
}

// OutputSpec returns the spec of a named output on a named model.
func (s SosModel) OutputSpec(modelName, output string) (data.Spec, bool) {
	m, ok := s.Lookup(modelName)
	if !ok {
		return data.Spec{}, false
	}
	spec, ok := m.Outputs[output]
	return spec, ok
}

// InputSpec returns the spec of a named input on a named model.
func (s SosModel) InputSpec(modelName, input string) (data.Spec, bool) {
	m, ok := s.Lookup(modelName)
	if !ok {
		return data.Spec{}, false
	}
	spec, ok := m.Inputs[input]
	return spec, ok
}
