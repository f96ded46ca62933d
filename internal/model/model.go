// Package model holds the configuration-time description of a
// system-of-systems: sector models, scenarios, their variable specs
// and the typed dependencies that couple them.
//
// Everything here is a structural record built at configuration load
// and immutable for the duration of a run. Execution state lives in
// the store; behaviour lives in the scheduler.
package model

import (
	"sort"

	"github.com/nismod/smif/internal/data"
)

// Model is the metadata common to every node in the dependency graph:
// a name plus the specs of its inputs, outputs and parameters.
type Model struct {
	Name       string               `json:"name" yaml:"name"`
	Inputs     map[string]data.Spec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs    map[string]data.Spec `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Parameters map[string]data.Spec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// InputNames returns the model's input names, sorted.
func (m Model) InputNames() []string {
	names := make([]string, 0, len(m.Inputs))
	for name := range m.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputNames returns the model's output names, sorted.
func (m Model) OutputNames() []string {
	names := make([]string, 0, len(m.Outputs))
	for name := range m.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SectorModel wraps a user simulator: the metadata plus the registry
// name of the simulator implementation, its planned interventions and
// the initial conditions seeded into the store before the first
// timestep.
type SectorModel struct {
	Model             `yaml:",inline"`
	ClassName         string             `json:"class_name" yaml:"class_name"`
	Interventions     []Intervention     `json:"interventions,omitempty" yaml:"interventions,omitempty"`
	InitialConditions []InitialCondition `json:"initial_conditions,omitempty" yaml:"initial_conditions,omitempty"`
}

// InitialCondition seeds a lagged output at the timestep before the
// run starts, so PREVIOUS-offset dependencies can read at the base
// timestep.
type InitialCondition struct {
	Output   string    `json:"output" yaml:"output"`
	Timestep int       `json:"timestep" yaml:"timestep"`
	Values   []float64 `json:"values" yaml:"values"`
}

// Intervention is a named piece of infrastructure a decision module
// may commit to, active from its build year onwards.
type Intervention struct {
	Name      string  `json:"name" yaml:"name"`
	BuildYear int     `json:"build_year,omitempty" yaml:"build_year,omitempty"`
	Capacity  float64 `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// ScenarioModel is the exogenous-data node: its outputs are read from
// persisted scenario variant data rather than computed. Variant is
// selected per model run.
type ScenarioModel struct {
	Model    `yaml:",inline"`
	Scenario string `json:"scenario" yaml:"scenario"`
	Variant  string `json:"variant" yaml:"variant"`
}

// Scenario is the configuration record a ScenarioModel is built from.
type Scenario struct {
	Name     string               `json:"name" yaml:"name"`
	Provides map[string]data.Spec `json:"provides" yaml:"provides"`
	Variants []ScenarioVariant    `json:"variants" yaml:"variants"`
}

// ScenarioVariant names one dataset of a scenario, with a data key per
// provided variable.
type ScenarioVariant struct {
	Name string            `json:"name" yaml:"name"`
	Data map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

// HasVariant reports whether the scenario declares the named variant.
func (s Scenario) HasVariant(name string) bool {
	for _, v := range s.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

// ScenarioModelFrom builds the graph node for a scenario with a
// selected variant: provides become outputs.
func ScenarioModelFrom(s Scenario, variant string) ScenarioModel {
	outputs := make(map[string]data.Spec, len(s.Provides))
	for name, spec := range s.Provides {
		outputs[name] = spec
	}
	return ScenarioModel{
		Model:    Model{Name: s.Name, Outputs: outputs},
		Scenario: s.Name,
		Variant:  variant,
	}
}

// Narrative overrides model parameters to express a storyline. Each
// variant's data lives in the store's narrative namespace.
type Narrative struct {
	Name     string              `json:"name" yaml:"name"`
	Provides map[string][]string `json:"provides,omitempty" yaml:"provides,omitempty"`
	Variants []string            `json:"variants,omitempty" yaml:"variants,omitempty"`
}
