package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
)

func (s *SQLiteStore) readConfig(ctx context.Context, kind, name string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM configs WHERE kind = ? AND name = ?`, kind, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Kind: kind, Key: name}
	}
	if err != nil {
		return fmt.Errorf("read %s %s: %w", kind, name, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, name, err)
	}
	return nil
}

func (s *SQLiteStore) listConfigs(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM configs WHERE kind = ? ORDER BY name`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) ReadModelRun(ctx context.Context, name string) (model.ModelRun, error) {
	var mr model.ModelRun
	err := s.readConfig(ctx, "model_run", name, &mr)
	return mr, err
}

func (s *SQLiteStore) ListModelRuns(ctx context.Context) ([]string, error) {
	return s.listConfigs(ctx, "model_run")
}

func (s *SQLiteStore) ReadSosModel(ctx context.Context, name string) (model.SosModelConfig, error) {
	var sc model.SosModelConfig
	err := s.readConfig(ctx, "sos_model", name, &sc)
	return sc, err
}

func (s *SQLiteStore) ListSosModels(ctx context.Context) ([]string, error) {
	return s.listConfigs(ctx, "sos_model")
}

func (s *SQLiteStore) ReadSectorModel(ctx context.Context, name string) (model.SectorModel, error) {
	var sm model.SectorModel
	err := s.readConfig(ctx, "sector_model", name, &sm)
	return sm, err
}

func (s *SQLiteStore) ListSectorModels(ctx context.Context) ([]string, error) {
	return s.listConfigs(ctx, "sector_model")
}

func (s *SQLiteStore) ReadScenario(ctx context.Context, name string) (model.Scenario, error) {
	var sc model.Scenario
	err := s.readConfig(ctx, "scenario", name, &sc)
	return sc, err
}

func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]string, error) {
	return s.listConfigs(ctx, "scenario")
}

func (s *SQLiteStore) ReadNarrative(ctx context.Context, name string) (model.Narrative, error) {
	var n model.Narrative
	err := s.readConfig(ctx, "narrative", name, &n)
	return n, err
}

func (s *SQLiteStore) ListNarratives(ctx context.Context) ([]string, error) {
	return s.listConfigs(ctx, "narrative")
}

func decodeArray(body string) (data.DataArray, error) {
	var da data.DataArray
	if err := json.Unmarshal([]byte(body), &da); err != nil {
		return data.DataArray{}, err
	}
	return da, nil
}

func (s *SQLiteStore) ReadScenarioVariantData(ctx context.Context, scenario, variant, variable string, timestep int) (data.DataArray, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM scenario_data
		WHERE scenario = ? AND variant = ? AND variable = ? AND timestep IN (?, ?)
		ORDER BY timestep DESC LIMIT 1
	`, scenario, variant, variable, timestep, TimestepAll).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DataArray{}, &NotFoundError{Kind: "scenario_data",
			Key: resultKeyString(scenario, variant, variable, timestep, 0)}
	}
	if err != nil {
		return data.DataArray{}, fmt.Errorf("read scenario data: %w", err)
	}
	return decodeArray(body)
}

func (s *SQLiteStore) ReadModelParameterDefault(ctx context.Context, modelName, param string) (data.DataArray, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM parameter_defaults WHERE model = ? AND param = ?
	`, modelName, param).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DataArray{}, &NotFoundError{Kind: "parameter_default", Key: modelName + "/" + param}
	}
	if err != nil {
		return data.DataArray{}, fmt.Errorf("read parameter default: %w", err)
	}
	return decodeArray(body)
}

func (s *SQLiteStore) ReadNarrativeVariantData(ctx context.Context, narrative, variant, param string) (data.DataArray, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM narrative_data WHERE narrative = ? AND variant = ? AND param = ?
	`, narrative, variant, param).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DataArray{}, &NotFoundError{Kind: "narrative_data",
			Key: narrative + "/" + variant + "/" + param}
	}
	if err != nil {
		return data.DataArray{}, fmt.Errorf("read narrative data: %w", err)
	}
	return decodeArray(body)
}

func (s *SQLiteStore) ReadResults(ctx context.Context, run, modelName, output string, timestep, iteration int) (data.DataArray, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM results
		WHERE run = ? AND model = ? AND output = ? AND timestep = ? AND iteration = ?
	`, run, modelName, output, timestep, iteration).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DataArray{}, &NotFoundError{Kind: "results",
			Key: resultKeyString(run, modelName, output, timestep, iteration)}
	}
	if err != nil {
		return data.DataArray{}, fmt.Errorf("read results: %w", err)
	}
	return decodeArray(body)
}

func (s *SQLiteStore) AvailableResults(ctx context.Context, run string) ([]ResultKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, output, timestep, iteration FROM results
		WHERE run = ?
		ORDER BY model, output, timestep, iteration
	`, run)
	if err != nil {
		return nil, fmt.Errorf("available results: %w", err)
	}
	defer rows.Close()

	var keys []ResultKey
	for rows.Next() {
		var k ResultKey
		if err := rows.Scan(&k.Model, &k.Output, &k.Timestep, &k.Iteration); err != nil {
			return nil, fmt.Errorf("available results: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) ReadInitialCondition(ctx context.Context, run, modelName, output string, timestep int) (data.DataArray, error) {
	var body string
	// Initial conditions hold from their keyed timestep onwards; the
	// newest one at or before the requested timestep wins, with
	// TimestepAll (-1) sorting last as the constant fallback.
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM initial_conditions
		WHERE run = ? AND model = ? AND output = ? AND timestep <= ?
		ORDER BY timestep DESC LIMIT 1
	`, run, modelName, output, timestep).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return data.DataArray{}, &NotFoundError{Kind: "initial_condition",
			Key: resultKeyString(run, modelName, output, timestep, 0)}
	}
	if err != nil {
		return data.DataArray{}, fmt.Errorf("read initial condition: %w", err)
	}
	return decodeArray(body)
}

func (s *SQLiteStore) ReadState(ctx context.Context, run string, timestep, iteration int) ([]Decision, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT decisions FROM state WHERE run = ? AND timestep = ? AND iteration = ?
	`, run, timestep, iteration).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "state",
			Key: resultKeyString(run, "state", "", timestep, iteration)}
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var decisions []Decision
	if err := json.Unmarshal([]byte(body), &decisions); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return decisions, nil
}

func (s *SQLiteStore) ReadJobStatus(ctx context.Context, run string, timestep, iteration int, modelName string) (JobRecord, error) {
	var rec JobRecord
	var status string
	var started, finished, jobErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, status, started, finished, error FROM jobs
		WHERE run = ? AND timestep = ? AND iteration = ? AND model = ?
	`, run, timestep, iteration, modelName).Scan(&rec.JobID, &status, &started, &finished, &jobErr)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, &NotFoundError{Kind: "job",
			Key: resultKeyString(run, modelName, "", timestep, iteration)}
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("read job status: %w", err)
	}
	rec.Model = modelName
	rec.Status = JobStatus(status)
	if started.Valid {
		rec.Started, _ = time.Parse(time.RFC3339Nano, started.String)
	}
	if finished.Valid {
		rec.Finished, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	if jobErr.Valid {
		rec.Error = jobErr.String
	}
	return rec, nil
}

func (s *SQLiteStore) CompletedIteration(ctx context.Context, run string, timestep int) (int, error) {
	var iteration int
	err := s.db.QueryRowContext(ctx, `
		SELECT iteration FROM completed_iterations WHERE run = ? AND timestep = ?
	`, run, timestep).Scan(&iteration)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &NotFoundError{Kind: "completed_iteration",
			Key: resultKeyString(run, "", "", timestep, 0)}
	}
	if err != nil {
		return 0, fmt.Errorf("read completed iteration: %w", err)
	}
	return iteration, nil
}
