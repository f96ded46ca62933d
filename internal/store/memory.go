package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
)

// MemoryStore is a map-backed Store for tests and in-process runs.
// All methods are safe for concurrent use; a single mutex is enough
// because values are copied or immutable on the way in and out.
type MemoryStore struct {
	mu sync.Mutex

	modelRuns    map[string]model.ModelRun
	sosModels    map[string]model.SosModelConfig
	sectorModels map[string]model.SectorModel
	scenarios    map[string]model.Scenario
	narratives   map[string]model.Narrative

	scenarioData  map[scenarioDataKey]data.DataArray
	paramDefaults map[[2]string]data.DataArray
	narrativeData map[[3]string]data.DataArray
	results       map[resultStoreKey]data.DataArray
	initials      map[initialKey]data.DataArray

	state     map[stateKey][]Decision
	jobs      map[jobKey]JobRecord
	completed map[completedKey]int
}

type scenarioDataKey struct {
	scenario, variant, variable string
	timestep                    int
}

type resultStoreKey struct {
	run, modelName, output string
	timestep, iteration    int
}

type initialKey struct {
	run, modelName, output string
	timestep               int
}

type stateKey struct {
	run                 string
	timestep, iteration int
}

type jobKey struct {
	run                 string
	timestep, iteration int
	modelName           string
}

type completedKey struct {
	run      string
	timestep int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modelRuns:     make(map[string]model.ModelRun),
		sosModels:     make(map[string]model.SosModelConfig),
		sectorModels:  make(map[string]model.SectorModel),
		scenarios:     make(map[string]model.Scenario),
		narratives:    make(map[string]model.Narrative),
		scenarioData:  make(map[scenarioDataKey]data.DataArray),
		paramDefaults: make(map[[2]string]data.DataArray),
		narrativeData: make(map[[3]string]data.DataArray),
		results:       make(map[resultStoreKey]data.DataArray),
		initials:      make(map[initialKey]data.DataArray),
		state:         make(map[stateKey][]Decision),
		jobs:          make(map[jobKey]JobRecord),
		completed:     make(map[completedKey]int),
	}
}

// Close is a no-op for the in-memory backing.
func (s *MemoryStore) Close() error { return nil }

// region Config

func (s *MemoryStore) ReadModelRun(_ context.Context, name string) (model.ModelRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mr, ok := s.modelRuns[name]
	if !ok {
		return model.ModelRun{}, &NotFoundError{Kind: "model_run", Key: name}
	}
	return mr, nil
}

func (s *MemoryStore) WriteModelRun(_ context.Context, mr model.ModelRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelRuns[mr.Name] = mr
	return nil
}

func (s *MemoryStore) ListModelRuns(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.modelRuns), nil
}

func (s *MemoryStore) DeleteModelRun(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.modelRuns, name)
	return nil
}

func (s *MemoryStore) ReadSosModel(_ context.Context, name string) (model.SosModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sosModels[name]
	if !ok {
		return model.SosModelConfig{}, &NotFoundError{Kind: "sos_model", Key: name}
	}
	return sc, nil
}

func (s *MemoryStore) WriteSosModel(_ context.Context, sc model.SosModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sosModels[sc.Name] = sc
	return nil
}

func (s *MemoryStore) ListSosModels(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.sosModels), nil
}

func (s *MemoryStore) DeleteSosModel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sosModels, name)
	return nil
}

func (s *MemoryStore) ReadSectorModel(_ context.Context, name string) (model.SectorModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.sectorModels[name]
	if !ok {
		return model.SectorModel{}, &NotFoundError{Kind: "sector_model", Key: name}
	}
	return sm, nil
}

func (s *MemoryStore) WriteSectorModel(_ context.Context, sm model.SectorModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectorModels[sm.Name] = sm
	return nil
}

func (s *MemoryStore) ListSectorModels(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.sectorModels), nil
}

func (s *MemoryStore) DeleteSectorModel(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sectorModels, name)
	return nil
}

func (s *MemoryStore) ReadScenario(_ context.Context, name string) (model.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[name]
	if !ok {
		return model.Scenario{}, &NotFoundError{Kind: "scenario", Key: name}
	}
	return sc, nil
}

func (s *MemoryStore) WriteScenario(_ context.Context, sc model.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[sc.Name] = sc
	return nil
}

func (s *MemoryStore) ListScenarios(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.scenarios), nil
}

func (s *MemoryStore) DeleteScenario(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scenarios, name)
	return nil
}

func (s *MemoryStore) ReadNarrative(_ context.Context, name string) (model.Narrative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.narratives[name]
	if !ok {
		return model.Narrative{}, &NotFoundError{Kind: "narrative", Key: name}
	}
	return n, nil
}

func (s *MemoryStore) WriteNarrative(_ context.Context, n model.Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narratives[n.Name] = n
	return nil
}

func (s *MemoryStore) ListNarratives(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.narratives), nil
}

func (s *MemoryStore) DeleteNarrative(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.narratives, name)
	return nil
}

// endregion

// region Data

func (s *MemoryStore) ReadScenarioVariantData(_ context.Context, scenario, variant, variable string, timestep int) (data.DataArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if da, ok := s.scenarioData[scenarioDataKey{scenario, variant, variable, timestep}]; ok {
		return da, nil
	}
	// Timestep-less scenario data holds for every timestep.
	if da, ok := s.scenarioData[scenarioDataKey{scenario, variant, variable, TimestepAll}]; ok {
		return da, nil
	}
	return data.DataArray{}, &NotFoundError{Kind: "scenario_data",
		Key: resultKeyString(scenario, variant, variable, timestep, 0)}
}

func (s *MemoryStore) WriteScenarioVariantData(_ context.Context, scenario, variant, variable string, timestep int, da data.DataArray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarioData[scenarioDataKey{scenario, variant, variable, timestep}] = da
	return nil
}

func (s *MemoryStore) ReadModelParameterDefault(_ context.Context, modelName, param string) (data.DataArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	da, ok := s.paramDefaults[[2]string{modelName, param}]
	if !ok {
		return data.DataArray{}, &NotFoundError{Kind: "parameter_default", Key: modelName + "/" + param}
	}
	return da, nil
}

func (s *MemoryStore) WriteModelParameterDefault(_ context.Context, modelName, param string, da data.DataArray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paramDefaults[[2]string{modelName, param}] = da
	return nil
}

func (s *MemoryStore) ReadNarrativeVariantData(_ context.Context, narrative, variant, param string) (data.DataArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	da, ok := s.narrativeData[[3]string{narrative, variant, param}]
	if !ok {
		return data.DataArray{}, &NotFoundError{Kind: "narrative_data",
			Key: narrative + "/" + variant + "/" + param}
	}
	return da, nil
}

func (s *MemoryStore) WriteNarrativeVariantData(_ context.Context, narrative, variant, param string, da data.DataArray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrativeData[[3]string{narrative, variant, param}] = da
	return nil
}

func (s *MemoryStore) ReadResults(_ context.Context, run, modelName, output string, timestep, iteration int) (data.DataArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	da, ok := s.results[resultStoreKey{run, modelName, output, timestep, iteration}]
	if !ok {
		return data.DataArray{}, &NotFoundError{Kind: "results",
			Key: resultKeyString(run, modelName, output, timestep, iteration)}
	}
	return da, nil
}

func (s *MemoryStore) WriteResults(_ context.Context, run, modelName, output string, timestep, iteration int, da data.DataArray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultStoreKey{run, modelName, output, timestep, iteration}] = da
	return nil
}

func (s *MemoryStore) AvailableResults(_ context.Context, run string) ([]ResultKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []ResultKey
	for k := range s.results {
		if k.run == run {
			keys = append(keys, ResultKey{Model: k.modelName, Output: k.output,
				Timestep: k.timestep, Iteration: k.iteration})
		}
	}
	sortResultKeys(keys)
	return keys, nil
}

func (s *MemoryStore) ReadInitialCondition(_ context.Context, run, modelName, output string, timestep int) (data.DataArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest initial condition at or before the requested timestep
	// wins; TimestepAll (-1) is the constant fallback.
	best, found := 0, false
	var da data.DataArray
	for k, v := range s.initials {
		if k.run != run || k.modelName != modelName || k.output != output || k.timestep > timestep {
			continue
		}
		if !found || k.timestep > best {
			best, found = k.timestep, true
			da = v
		}
	}
	if !found {
		return data.DataArray{}, &NotFoundError{Kind: "initial_condition",
			Key: resultKeyString(run, modelName, output, timestep, 0)}
	}
	return da, nil
}

func (s *MemoryStore) WriteInitialCondition(_ context.Context, run, modelName, output string, timestep int, da data.DataArray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initials[initialKey{run, modelName, output, timestep}] = da
	return nil
}

// endregion

// region Metadata

func (s *MemoryStore) ReadState(_ context.Context, run string, timestep, iteration int) ([]Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decisions, ok := s.state[stateKey{run, timestep, iteration}]
	if !ok {
		return nil, &NotFoundError{Kind: "state",
			Key: resultKeyString(run, "state", "", timestep, iteration)}
	}
	return append([]Decision(nil), decisions...), nil
}

func (s *MemoryStore) WriteState(_ context.Context, run string, timestep, iteration int, decisions []Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[stateKey{run, timestep, iteration}] = append([]Decision(nil), decisions...)
	return nil
}

func (s *MemoryStore) WriteJobStatus(_ context.Context, run string, timestep, iteration int, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobKey{run, timestep, iteration, rec.Model}] = rec
	return nil
}

func (s *MemoryStore) ReadJobStatus(_ context.Context, run string, timestep, iteration int, modelName string) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobKey{run, timestep, iteration, modelName}]
	if !ok {
		return JobRecord{}, &NotFoundError{Kind: "job",
			Key: resultKeyString(run, modelName, "", timestep, iteration)}
	}
	return rec, nil
}

func (s *MemoryStore) CompletedIteration(_ context.Context, run string, timestep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iteration, ok := s.completed[completedKey{run, timestep}]
	if !ok {
		return 0, &NotFoundError{Kind: "completed_iteration",
			Key: resultKeyString(run, "", "", timestep, 0)}
	}
	return iteration, nil
}

func (s *MemoryStore) WriteCompletedIteration(_ context.Context, run string, timestep, iteration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[completedKey{run, timestep}] = iteration
	return nil
}

// endregion

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortResultKeys(keys []ResultKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Output != b.Output {
			return a.Output < b.Output
		}
		if a.Timestep != b.Timestep {
			return a.Timestep < b.Timestep
		}
		return a.Iteration < b.Iteration
	})
}
