package model

// DecisionModuleKind enumerates the decision modules the loop can
// drive.
type DecisionModuleKind string

const (
	// DecisionPreSpecified replays a fixed pipeline of planned
	// interventions; one scheduler pass per timestep.
	DecisionPreSpecified DecisionModuleKind = "pre-specified"

	// DecisionRuleBased commits interventions according to rules
	// evaluated against the previous timestep's results; one scheduler
	// pass per timestep.
	DecisionRuleBased DecisionModuleKind = "rule-based"

	// DecisionIterating re-runs each timestep until the convergence
	// variables settle or MaxIterations is reached.
	DecisionIterating DecisionModuleKind = "iterating"
)

// ConvergenceVariable designates one model output watched by the
// iterating decision module.
type ConvergenceVariable struct {
	Model  string `json:"model" yaml:"model"`
	Output string `json:"output" yaml:"output"`
}

// DecisionConfig selects and parameterizes the decision module for a
// model run. Tolerances follow the usual allclose form: an element has
// converged when |x_i - x_prev| <= atol + rtol*|x_prev|.
type DecisionConfig struct {
	Module               DecisionModuleKind    `json:"module" yaml:"module"`
	MaxIterations        int                   `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	RelativeTolerance    float64               `json:"convergence_relative_tolerance,omitempty" yaml:"convergence_relative_tolerance,omitempty"`
	AbsoluteTolerance    float64               `json:"convergence_absolute_tolerance,omitempty" yaml:"convergence_absolute_tolerance,omitempty"`
	ConvergenceVariables []ConvergenceVariable `json:"convergence_variables,omitempty" yaml:"convergence_variables,omitempty"`
}

// Strategy is a planned set of interventions handed to the decision
// module.
type Strategy struct {
	Type          string         `json:"type" yaml:"type"`
	Model         string         `json:"model,omitempty" yaml:"model,omitempty"`
	Interventions []Intervention `json:"interventions,omitempty" yaml:"interventions,omitempty"`
}

// ModelRun names a SosModel, the timesteps to simulate, the scenario
// and narrative variants to read, and the decision module that drives
// the run.
type ModelRun struct {
	Name              string              `json:"name" yaml:"name"`
	SosModel          string              `json:"sos_model" yaml:"sos_model"`
	Timesteps         []int               `json:"timesteps" yaml:"timesteps"`
	ScenarioVariants  map[string]string   `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	NarrativeVariants map[string][]string `json:"narratives,omitempty" yaml:"narratives,omitempty"`
	Strategies        []Strategy          `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	Decision          DecisionConfig      `json:"decision,omitempty" yaml:"decision,omitempty"`
}

// BaseTimestep returns the first timestep of the run.
func (mr ModelRun) BaseTimestep() int {
	if len(mr.Timesteps) == 0 {
		return 0
	}
	return mr.Timesteps[0]
}
