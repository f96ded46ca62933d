package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nismod/smif/internal/data"
	"github.com/nismod/smif/internal/model"
)

func (s *SQLiteStore) writeConfig(ctx context.Context, kind, name string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO configs (kind, name, body) VALUES (?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET body = excluded.body
	`, kind, name, string(body))
	if err != nil {
		return fmt.Errorf("write %s %s: %w", kind, name, err)
	}
	return nil
}

func (s *SQLiteStore) deleteConfig(ctx context.Context, kind, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM configs WHERE kind = ? AND name = ?`, kind, name)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, name, err)
	}
	return nil
}

func (s *SQLiteStore) WriteModelRun(ctx context.Context, mr model.ModelRun) error {
	return s.writeConfig(ctx, "model_run", mr.Name, mr)
}

func (s *SQLiteStore) DeleteModelRun(ctx context.Context, name string) error {
	return s.deleteConfig(ctx, "model_run", name)
}

func (s *SQLiteStore) WriteSosModel(ctx context.Context, sc model.SosModelConfig) error {
	return s.writeConfig(ctx, "sos_model", sc.Name, sc)
}

func (s *SQLiteStore) DeleteSosModel(ctx context.Context, name string) error {
	return s.deleteConfig(ctx, "sos_model", name)
}

func (s *SQLiteStore) WriteSectorModel(ctx context.Context, sm model.SectorModel) error {
	return s.writeConfig(ctx, "sector_model", sm.Name, sm)
}

func (s *SQLiteStore) DeleteSectorModel(ctx context.Context, name string) error {
	return s.deleteConfig(ctx, "sector_model", name)
}

func (s *SQLiteStore) WriteScenario(ctx context.Context, sc model.Scenario) error {
	return s.writeConfig(ctx, "scenario", sc.Name, sc)
}

func (s *SQLiteStore) DeleteScenario(ctx context.Context, name string) error {
	return s.deleteConfig(ctx, "scenario", name)
}

func (s *SQLiteStore) WriteNarrative(ctx context.Context, n model.Narrative) error {
	return s.writeConfig(ctx, "narrative", n.Name, n)
}

func (s *SQLiteStore) DeleteNarrative(ctx context.Context, name string) error {
	return s.deleteConfig(ctx, "narrative", name)
}

func encodeArray(da data.DataArray) (string, error) {
	body, err := json.Marshal(da)
	if err != nil {
		return "", fmt.Errorf("encode data array %s: %w", da.Spec.Name, err)
	}
	return string(body), nil
}

func (s *SQLiteStore) WriteScenarioVariantData(ctx context.Context, scenario, variant, variable string, timestep int, da data.DataArray) error {
	body, err := encodeArray(da)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenario_data (scenario, variant, variable, timestep, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scenario, variant, variable, timestep) DO UPDATE SET body = excluded.body
	`, scenario, variant, variable, timestep, body)
	if err != nil {
		return fmt.Errorf("write scenario data: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteModelParameterDefault(ctx context.Context, modelName, param string, da data.DataArray) error {
	body, err := encodeArray(da)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parameter_defaults (model, param, body) VALUES (?, ?, ?)
		ON CONFLICT(model, param) DO UPDATE SET body = excluded.body
	`, modelName, param, body)
	if err != nil {
		return fmt.Errorf("write parameter default: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteNarrativeVariantData(ctx context.Context, narrative, variant, param string, da data.DataArray) error {
	body, err := encodeArray(da)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO narrative_data (narrative, variant, param, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(narrative, variant, param) DO UPDATE SET body = excluded.body
	`, narrative, variant, param, body)
	if err != nil {
		return fmt.Errorf("write narrative data: %w", err)
	}
	return nil
}

// WriteResults is atomic at the result-key grain: the row either holds
// the previous array or the new one, never a mixture.
func (s *SQLiteStore) WriteResults(ctx context.Context, run, modelName, output string, timestep, iteration int, da data.DataArray) error {
	body, err := encodeArray(da)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (run, model, output, timestep, iteration, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, model, output, timestep, iteration) DO UPDATE SET body = excluded.body
	`, run, modelName, output, timestep, iteration, body)
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteInitialCondition(ctx context.Context, run, modelName, output string, timestep int, da data.DataArray) error {
	body, err := encodeArray(da)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO initial_conditions (run, model, output, timestep, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run, model, output, timestep) DO UPDATE SET body = excluded.body
	`, run, modelName, output, timestep, body)
	if err != nil {
		return fmt.Errorf("write initial condition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteState(ctx context.Context, run string, timestep, iteration int, decisions []Decision) error {
	if decisions == nil {
		decisions = []Decision{}
	}
	body, err := json.Marshal(decisions)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (run, timestep, iteration, decisions) VALUES (?, ?, ?, ?)
		ON CONFLICT(run, timestep, iteration) DO UPDATE SET decisions = excluded.decisions
	`, run, timestep, iteration, string(body))
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteJobStatus(ctx context.Context, run string, timestep, iteration int, rec JobRecord) error {
	var started, finished any
	if !rec.Started.IsZero() {
		started = rec.Started.UTC().Format(time.RFC3339Nano)
	}
	if !rec.Finished.IsZero() {
		finished = rec.Finished.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (run, timestep, iteration, model, job_id, status, started, finished, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run, timestep, iteration, model) DO UPDATE SET
			job_id = excluded.job_id,
			status = excluded.status,
			started = excluded.started,
			finished = excluded.finished,
			error = excluded.error
	`, run, timestep, iteration, rec.Model, rec.JobID, string(rec.Status), started, finished, rec.Error)
	if err != nil {
		return fmt.Errorf("write job status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteCompletedIteration(ctx context.Context, run string, timestep, iteration int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completed_iterations (run, timestep, iteration) VALUES (?, ?, ?)
		ON CONFLICT(run, timestep) DO UPDATE SET iteration = excluded.iteration
	`, run, timestep, iteration)
	if err != nil {
		return fmt.Errorf("write completed iteration: %w", err)
	}
	return nil
}
