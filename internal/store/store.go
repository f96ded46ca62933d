// Package store defines the persistence contract the orchestration
// core runs against, and its backings: an in-memory store for tests
// and in-process runs, a SQLite store and a Postgres store.
//
// The contract is namespaced three ways: configuration records, bulk
// data (scenario data, parameters, per-run results) and run metadata
// (decision state, job status). Writes are atomic at the result-key
// grain and reads return the last value written or a NotFoundError.
// The store is not required to be safe against concurrent writers to
// the same key; the scheduler guarantees at most one writer per key.
package store

import (
	"context"
	"time"

	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
)

// TimestepAll marks scenario or initial-condition data that holds for
// every timestep. Reads for a concrete timestep fall back to it.
const TimestepAll = -1

// ResultKey identifies one persisted result.
type ResultKey struct {
	Model     string `json:"model"`
	Output    string `json:"output"`
	Timestep  int    `json:"timestep"`
	Iteration int    `json:"iteration"`
}

// JobStatus is the lifecycle of one (model, timestep, iteration) job.
type JobStatus string

const (
	JobUnstarted JobStatus = "unstarted"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// JobRecord is the per-job metadata the scheduler flushes to the meta
// namespace before and after each model invocation.
type JobRecord struct {
	JobID    string    `json:"job_id"`
	Model    string    `json:"model"`
	Status   JobStatus `json:"status"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`
	Error    string    `json:"error,omitempty"`
}

// Decision is one committed intervention, persisted as decision-module
// state between timesteps.
type Decision struct {
	Name      string `json:"name"`
	BuildYear int    `json:"build_year"`
}

// ConfigStore is the configuration namespace: typed records keyed by
// kind and name.
type ConfigStore interface {
	ReadModelRun(ctx context.Context, name string) (model.ModelRun, error)
	WriteModelRun(ctx context.Context, mr model.ModelRun) error
	ListModelRuns(ctx context.Context) ([]string, error)
	DeleteModelRun(ctx context.Context, name string) error

	ReadSosModel(ctx context.Context, name string) (model.SosModelConfig, error)
	WriteSosModel(ctx context.Context, sc model.SosModelConfig) error
	ListSosModels(ctx context.Context) ([]string, error)
	DeleteSosModel(ctx context.Context, name string) error

	ReadSectorModel(ctx context.Context, name string) (model.SectorModel, error)
	WriteSectorModel(ctx context.Context, sm model.SectorModel) error
	ListSectorModels(ctx context.Context) ([]string, error)
	DeleteSectorModel(ctx context.Context, name string) error

	ReadScenario(ctx context.Context, name string) (model.Scenario, error)
	WriteScenario(ctx context.Context, sc model.Scenario) error
	ListScenarios(ctx context.Context) ([]string, error)
	DeleteScenario(ctx context.Context, name string) error

	ReadNarrative(ctx context.Context, name string) (model.Narrative, error)
	WriteNarrative(ctx context.Context, n model.Narrative) error
	ListNarratives(ctx context.Context) ([]string, error)
	DeleteNarrative(ctx context.Context, name string) error
}

// DataStore is the bulk-data namespace: scenario variant data,
// parameter defaults, narrative overrides, per-run results and
// initial conditions.
type DataStore interface {
	ReadScenarioVariantData(ctx context.Context, scenario, variant, variable string, timestep int) (data.DataArray, error)
	WriteScenarioVariantData(ctx context.Context, scenario, variant, variable string, timestep int, da data.DataArray) error

	ReadModelParameterDefault(ctx context.Context, modelName, param string) (data.DataArray, error)
	WriteModelParameterDefault(ctx context.Context, modelName, param string, da data.DataArray) error

	ReadNarrativeVariantData(ctx context.Context, narrative, variant, param string) (data.DataArray, error)
	WriteNarrativeVariantData(ctx context.Context, narrative, variant, param string, da data.DataArray) error

	ReadResults(ctx context.Context, run, modelName, output string, timestep, iteration int) (data.DataArray, error)
	WriteResults(ctx context.Context, run, modelName, output string, timestep, iteration int, da data.DataArray) error
	AvailableResults(ctx context.Context, run string) ([]ResultKey, error)

	ReadInitialCondition(ctx context.Context, run, modelName, output string, timestep int) (data.DataArray, error)
	WriteInitialCondition(ctx context.Context, run, modelName, output string, timestep int, da data.DataArray) error
}

// MetadataStore is the meta namespace: decision state and job status
// per (run, timestep, iteration).
type MetadataStore interface {
	ReadState(ctx context.Context, run string, timestep, iteration int) ([]Decision, error)
	WriteState(ctx context.Context, run string, timestep, iteration int, decisions []Decision) error

	WriteJobStatus(ctx context.Context, run string, timestep, iteration int, rec JobRecord) error
	ReadJobStatus(ctx context.Context, run string, timestep, iteration int, modelName string) (JobRecord, error)

	// CompletedIteration returns the final iteration recorded for a
	// timestep. It is written once per timestep when the decision loop
	// settles, and drives lagged (PREVIOUS-offset) reads and resume.
	CompletedIteration(ctx context.Context, run string, timestep int) (int, error)
	WriteCompletedIteration(ctx context.Context, run string, timestep, iteration int) error
}

// Store is the full persistence contract.
type Store interface {
	ConfigStore
	DataStore
	MetadataStore
	Close() error
}
