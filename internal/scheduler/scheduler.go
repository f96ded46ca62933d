// Package scheduler runs the dependency graph for one (timestep,
// iteration): each model in topological order, or in parallel bounded
// by the graph and a worker limit, with per-job status flushed to the
// store before and after every invocation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/handle"
	"github.com/nismod/smif/internal/model"
	"github.com/nismod/smif/internal/store"
)

// Simulator is the contract a user sector model implements. The
// handle is the model's only view of the run: inputs, parameters and
// result writes all go through it.
type Simulator interface {
	// BeforeModelRun is called once per model run, before the first
	// timestep, with a handle scoped to the base timestep.
	BeforeModelRun(h *handle.DataHandle) error

	// Simulate runs one (timestep, iteration).
	Simulate(h *handle.DataHandle) error
}

// Scheduler executes jobs against a store. It is single-writer per
// result key by construction: each model owns its outputs and runs at
// most once per (timestep, iteration).
type Scheduler struct {
	store      store.Store
	registry   *convert.Registry
	maxWorkers int
	now        func() time.Time
	newJobID   func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxWorkers enables bounded parallel execution: up to n jobs run
// concurrently, gated so a node starts only after all its CURRENT
// predecessors are done. n <= 1 keeps the sequential path.
func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) {
		s.maxWorkers = n
	}
}

// WithClock overrides the wall clock used for job timings, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithJobIDs overrides the job id generator, for tests.
func WithJobIDs(gen func() string) Option {
	return func(s *Scheduler) {
		s.newJobID = gen
	}
}

// New creates a Scheduler.
func New(st store.Store, registry *convert.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		registry:   registry,
		maxWorkers: 1,
		now:        time.Now,
		newJobID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request identifies one scheduler pass: the composed system, its
// graph, the simulators backing each sector model, and the coordinates
// of the pass.
type Request struct {
	Graph             *graph.DependencyGraph
	Sos               model.SosModel
	Simulators        map[string]Simulator
	Run               string
	Timesteps         []int
	TimestepIndex     int
	Iteration         int
	NarrativeVariants map[string][]string
}

func (r Request) timestep() int {
	return r.Timesteps[r.TimestepIndex]
}

// Result is the outcome of one scheduler pass.
type Result struct {
	Statuses map[string]store.JobStatus

	// Err is the first failure, nil when every job is done.
	Err error
}

// Done reports whether every job reached JobDone.
func (r Result) Done() bool {
	return r.Err == nil
}

// FailedModels returns the models that failed, sorted.
func (r Result) FailedModels() []string {
	var failed []string
	for name, status := range r.Statuses {
		if status == store.JobFailed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Run executes one (timestep, iteration) pass over the graph.
// Re-running the same pass overwrites results deterministically.
//
// The returned error is reserved for store-level failures; model
// failures are reported through Result so callers can distinguish a
// broken store from a broken model.
func (s *Scheduler) Run(ctx context.Context, req Request) (Result, error) {
	order := req.Graph.TopoOrder()
	result := Result{Statuses: make(map[string]store.JobStatus, len(order))}
	for _, name := range order {
		result.Statuses[name] = store.JobUnstarted
	}

	slog.Debug("scheduler pass starting",
		"run", req.Run, "timestep", req.timestep(), "iteration", req.Iteration,
		"jobs", len(order), "max_workers", s.maxWorkers)

	var err error
	if s.maxWorkers > 1 {
		err = s.runParallel(ctx, req, order, &result)
	} else {
		err = s.runSequential(ctx, req, order, &result)
	}
	if err != nil {
		return result, err
	}

	slog.Debug("scheduler pass finished",
		"run", req.Run, "timestep", req.timestep(), "iteration", req.Iteration,
		"failed", len(result.FailedModels()))
	return result, nil
}

func (s *Scheduler) runSequential(ctx context.Context, req Request, order []string, result *Result) error {
	skipped := make(map[string]bool)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			// Aborted between jobs: everything not yet run is skipped,
			// status flushed, results already written remain.
			return s.flushSkipped(ctx, req, order, result)
		}
		if skipped[name] {
			continue
		}
		jobErr, err := s.runJob(ctx, req, name)
		if err != nil {
			return err
		}
		if jobErr != nil {
			result.Statuses[name] = store.JobFailed
			if result.Err == nil {
				result.Err = jobErr
			}
			s.skipDescendants(ctx, req, name, result, skipped)
			continue
		}
		result.Statuses[name] = store.JobDone
	}
	return nil
}

// runParallel dispatches ready jobs to a bounded worker pool. A node
// becomes ready when all its CURRENT predecessors are done; ready
// nodes are started in name order so dispatch is deterministic.
func (s *Scheduler) runParallel(ctx context.Context, req Request, order []string, result *Result) error {
	pending := make(map[string]int, len(order))
	for _, name := range order {
		pending[name] = len(req.Graph.CurrentPredecessors(name))
	}

	var ready []string
	for _, name := range order {
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	type completion struct {
		name   string
		jobErr error
		err    error
	}
	completions := make(chan completion)
	skipped := make(map[string]bool)
	running := 0
	remaining := len(order)

	launch := func(name string) {
		running++
		go func() {
			jobErr, err := s.runJob(ctx, req, name)
			completions <- completion{name: name, jobErr: jobErr, err: err}
		}()
	}

	var storeErr error
	for remaining > 0 {
		for len(ready) > 0 && running < s.maxWorkers && storeErr == nil {
			next := ready[0]
			ready = ready[1:]
			if skipped[next] {
				remaining--
				continue
			}
			launch(next)
		}

		if running == 0 {
			// Nothing runnable: whatever is left was skipped.
			break
		}

		done := <-completions
		running--
		remaining--
		if done.err != nil && storeErr == nil {
			storeErr = done.err
			continue
		}
		if done.jobErr != nil {
			result.Statuses[done.name] = store.JobFailed
			if result.Err == nil {
				result.Err = done.jobErr
			}
			s.skipDescendants(ctx, req, done.name, result, skipped)
			continue
		}
		result.Statuses[done.name] = store.JobDone
		for _, sink := range req.Graph.CurrentSuccessors(done.name) {
			pending[sink]--
			if pending[sink] == 0 && !skipped[sink] {
				ready = insertSorted(ready, sink)
			}
		}
	}
	return storeErr
}

func insertSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}

// runJob executes one model. The first return value is the job's own
// failure (ModelRunError, MissingDataError, ConversionError); the
// second is a store failure that aborts the whole pass. Statuses in
// the in-memory Result are the caller's concern so the map is only
// touched from the coordinating goroutine.
func (s *Scheduler) runJob(ctx context.Context, req Request, name string) (jobErr, err error) {
	timestep := req.timestep()
	rec := store.JobRecord{
		JobID:   s.newJobID(),
		Model:   name,
		Status:  store.JobRunning,
		Started: s.now(),
	}
	if err := s.store.WriteJobStatus(ctx, req.Run, timestep, req.Iteration, rec); err != nil {
		return nil, fmt.Errorf("record job start: %w", err)
	}

	h := handle.New(ctx, s.store, s.registry, req.Sos, req.Run, name,
		req.Timesteps, req.TimestepIndex, req.Iteration, req.NarrativeVariants)

	jobErr = s.invoke(req, name, h)

	rec.Finished = s.now()
	if jobErr != nil {
		rec.Status = store.JobFailed
		rec.Error = jobErr.Error()
		slog.Warn("job failed", "run", req.Run, "model", name,
			"timestep", timestep, "iteration", req.Iteration, "error", jobErr)
	} else {
		rec.Status = store.JobDone
		slog.Debug("job done", "run", req.Run, "model", name,
			"timestep", timestep, "iteration", req.Iteration,
			"elapsed", rec.Finished.Sub(rec.Started))
	}
	if err := s.store.WriteJobStatus(ctx, req.Run, timestep, req.Iteration, rec); err != nil {
		return jobErr, fmt.Errorf("record job finish: %w", err)
	}
	return jobErr, nil
}

// invoke runs the model behind a node: scenario models copy their
// variant data into results, sector models call user code.
func (s *Scheduler) invoke(req Request, name string, h *handle.DataHandle) error {
	if sm, ok := req.Sos.ScenarioModel(name); ok {
		return s.simulateScenario(h, sm)
	}

	sim, ok := req.Simulators[name]
	if !ok {
		return &ModelRunError{Model: name, Timestep: req.timestep(), Iteration: req.Iteration,
			Err: fmt.Errorf("no simulator registered")}
	}
	if err := sim.Simulate(h); err != nil {
		if handle.IsMissingData(err) || convert.IsConversion(err) {
			return err
		}
		return &ModelRunError{Model: name, Timestep: req.timestep(), Iteration: req.Iteration, Err: err}
	}
	return nil
}

// simulateScenario publishes scenario variant data as the scenario
// model's results for this timestep, so downstream reads are uniform.
func (s *Scheduler) simulateScenario(h *handle.DataHandle, sm model.ScenarioModel) error {
	for _, output := range sm.OutputNames() {
		da, err := s.store.ReadScenarioVariantData(
			h.Context(), sm.Scenario, sm.Variant, output, h.CurrentTimestep())
		if err != nil {
			if store.IsNotFound(err) {
				return &handle.MissingDataError{Model: sm.Name, Input: output,
					Timestep: h.CurrentTimestep(), Iteration: h.Iteration(),
					Cause: err.Error()}
			}
			return err
		}
		converted, err := s.registry.Convert(da, sm.Outputs[output])
		if err != nil {
			return err
		}
		if err := h.SetResults(output, converted); err != nil {
			return err
		}
	}
	return nil
}

// skipDescendants marks every strict descendant of a failed node
// skipped, breadth-first, and flushes the status.
func (s *Scheduler) skipDescendants(ctx context.Context, req Request, failed string, result *Result, skipped map[string]bool) {
	var queue deque.Deque[string]
	for _, sink := range req.Graph.CurrentSuccessors(failed) {
		queue.PushBack(sink)
	}
	for queue.Len() > 0 {
		name := queue.PopFront()
		if skipped[name] {
			continue
		}
		skipped[name] = true
		result.Statuses[name] = store.JobSkipped
		rec := store.JobRecord{
			JobID:  s.newJobID(),
			Model:  name,
			Status: store.JobSkipped,
			Error:  fmt.Sprintf("skipped: upstream model %s failed", failed),
		}
		if err := s.store.WriteJobStatus(ctx, req.Run, req.timestep(), req.Iteration, rec); err != nil {
			slog.Error("record skip", "model", name, "error", err)
		}
		for _, sink := range req.Graph.CurrentSuccessors(name) {
			queue.PushBack(sink)
		}
	}
}

// flushSkipped marks everything still unstarted as skipped after an
// abort.
func (s *Scheduler) flushSkipped(ctx context.Context, req Request, order []string, result *Result) error {
	if result.Err == nil {
		result.Err = context.Cause(ctx)
	}
	for _, name := range order {
		if result.Statuses[name] != store.JobUnstarted {
			continue
		}
		result.Statuses[name] = store.JobSkipped
		rec := store.JobRecord{
			JobID:  s.newJobID(),
			Model:  name,
			Status: store.JobSkipped,
			Error:  "skipped: run aborted",
		}
		// Flush on a fresh context: the job context is already dead.
		if err := s.store.WriteJobStatus(context.WithoutCancel(ctx), req.Run,
			req.timestep(), req.Iteration, rec); err != nil {
			return fmt.Errorf("record abort: %w", err)
		}
	}
	return nil
}
