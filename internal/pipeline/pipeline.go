// Package pipeline sequences the four generation stages into one run:
// fetch → write-up validation → vulnerability extraction → lab planning →
// artifact generation. The orchestrator is a linear state machine; each
// stage's validated payload becomes the next stage's input, untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labgenie/internal/backend"
	"labgenie/internal/config"
	"labgenie/internal/errlog"
	"labgenie/internal/prompts"
	"labgenie/internal/stage"
)

// Status of a finished run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the record of one pipeline execution. Results are appended in
// execution order; a failed run keeps every result produced before the
// failure.
type Run struct {
	ID          string
	URL         string
	Results     []stage.Result
	Status      Status
	FailedStage string
	Err         error
	BundlePath  string
	Start       time.Time
	End         time.Time
}

// Duration is the cumulative wall-clock time of the run.
func (r *Run) Duration() time.Duration { return r.End.Sub(r.Start) }

// Fetcher turns a URL into text content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ArtifactStore persists run logs and the final bundle. Log persistence
// failures never fail the run; bundle persistence does.
type ArtifactStore interface {
	InitRun(runID, url string) error
	PersistStage(runID string, index int, res stage.Result) error
	PersistBundle(runID string, results []stage.Result) (string, error)
	FinalizeRun(runID string, status string, runErr error) error
}

// Options configure a Pipeline.
type Options struct {
	Config  *config.Config
	Fetcher Fetcher
	Store   ArtifactStore
	Sink    errlog.Sink
	Log     *zap.Logger

	// HaltOnPartial fails the run when a stage validates partially
	// instead of threading the incomplete payload forward.
	HaltOnPartial bool

	// NewBackend builds the backend for a stage and its configured
	// model. Production wiring passes BackendFactory; tests inject fakes.
	NewBackend func(stageName, model string) backend.Backend

	// Retry knobs, zero means the stage defaults.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Pipeline runs the four stages. One Pipeline may serve concurrent
// Execute calls: per-run state lives in the Run, and the shared sink and
// store are safe for concurrent use.
type Pipeline struct {
	specs         []stage.Spec
	runners       map[string]*stage.Runner
	fetcher       Fetcher
	store         ArtifactStore
	sink          errlog.Sink
	log           *zap.Logger
	haltOnPartial bool
}

// New wires a Pipeline from options.
func New(opts Options) (*Pipeline, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if opts.NewBackend == nil {
		return nil, errors.New("pipeline: backend factory is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = errlog.Nop{}
	}
	store := opts.Store
	if store == nil {
		store = nopStore{}
	}

	specs := stageSpecs()
	runners := make(map[string]*stage.Runner, len(specs))
	for _, sp := range specs {
		runners[sp.Name] = &stage.Runner{
			Backend:     opts.NewBackend(sp.Name, cfg.ModelFor(sp.Name)),
			Prompts:     stage.PromptFunc(prompts.Load),
			Sink:        sink,
			Log:         log.Named(sp.Name),
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   opts.BaseDelay,
			MaxDelay:    opts.MaxDelay,
			Sleep:       opts.Sleep,
		}
	}
	return &Pipeline{
		specs:         specs,
		runners:       runners,
		fetcher:       opts.Fetcher,
		store:         store,
		sink:          sink,
		log:           log,
		haltOnPartial: opts.HaltOnPartial || cfg.Strict,
	}, nil
}

// BackendFactory builds genai-backed clients for the resolved credentials.
func BackendFactory(creds config.Credentials, log *zap.Logger) func(stageName, model string) backend.Backend {
	return func(_, model string) backend.Backend {
		if creds.Provider == config.ProviderVertex {
			return backend.NewVertex(creds.Project, creds.Location, model, log)
		}
		return backend.NewGeminiAPI(creds.APIKey, model, log)
	}
}

// FetchStageName labels content-fetch failures in the run record and the
// error log. Fetching happens before any generation stage, so it gets its
// own pseudo-stage name instead of borrowing stage 1's.
const FetchStageName = "fetch"

// NewRunID builds a sortable run identifier: timestamp plus a short
// random suffix to keep simultaneous runs apart.
func NewRunID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// Execute runs the full pipeline for one URL. It always returns a Run;
// inspect Status, FailedStage and Err for the outcome.
func (p *Pipeline) Execute(ctx context.Context, url string) *Run {
	run := &Run{
		ID:     NewRunID(time.Now()),
		URL:    url,
		Status: StatusFailed,
		Start:  time.Now(),
	}
	defer func() { run.End = time.Now() }()

	p.log.Info("run started", zap.String("run_id", run.ID), zap.String("url", url))
	if err := p.store.InitRun(run.ID, url); err != nil {
		p.log.Warn("failed to initialize run log", zap.Error(err))
	}

	content, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		run.FailedStage = FetchStageName
		run.Err = err
		p.sink.Append(errlog.Record{
			Stage:    FetchStageName,
			Category: errlog.CategoryFetch,
			Message:  err.Error(),
		})
		p.finalize(run)
		return run
	}

	input := map[string]any{
		"url":        url,
		"markdown":   content,
		"fetch_time": time.Now().UTC().Format(time.RFC3339),
	}

	for i, sp := range p.specs {
		res := p.runners[sp.Name].Run(ctx, sp, input)
		run.Results = append(run.Results, res)
		if err := p.store.PersistStage(run.ID, i, res); err != nil {
			p.log.Warn("failed to persist stage log",
				zap.String("stage", sp.Name), zap.Error(err))
		}

		switch res.Status {
		case stage.StatusError:
			run.FailedStage = sp.Name
			run.Err = res.Err
			p.finalize(run)
			return run

		case stage.StatusPartial:
			if p.haltOnPartial {
				run.FailedStage = sp.Name
				run.Err = fmt.Errorf("stage %s returned a partial payload, missing %v", sp.Name, res.Missing)
				p.sink.Append(errlog.Record{
					Stage:    sp.Name,
					Backend:  p.runners[sp.Name].Backend.Name(),
					Category: errlog.CategoryValidation,
					Message:  run.Err.Error(),
				})
				p.finalize(run)
				return run
			}
			p.log.Warn("continuing past partial stage",
				zap.String("stage", sp.Name),
				zap.Strings("missing", res.Missing))
		}

		input = res.Payload
	}

	path, err := p.store.PersistBundle(run.ID, run.Results)
	if err != nil {
		run.FailedStage = config.StageLabBuilder
		run.Err = fmt.Errorf("failed to write artifact bundle: %w", err)
		p.sink.Append(errlog.Record{
			Stage:    config.StageLabBuilder,
			Category: errlog.CategoryPermanent,
			Message:  run.Err.Error(),
		})
		p.finalize(run)
		return run
	}

	run.BundlePath = path
	run.Status = StatusCompleted
	p.finalize(run)
	p.log.Info("run completed",
		zap.String("run_id", run.ID),
		zap.String("bundle", path),
		zap.Duration("elapsed", time.Since(run.Start)))
	return run
}

func (p *Pipeline) finalize(run *Run) {
	if err := p.store.FinalizeRun(run.ID, string(run.Status), run.Err); err != nil {
		p.log.Warn("failed to finalize run log", zap.Error(err))
	}
}

type nopStore struct{}

func (nopStore) InitRun(string, string) error                 { return nil }
func (nopStore) PersistStage(string, int, stage.Result) error { return nil }
func (nopStore) FinalizeRun(string, string, error) error      { return nil }

func (nopStore) PersistBundle(string, []stage.Result) (string, error) { return "", nil }
