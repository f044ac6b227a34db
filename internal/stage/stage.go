// Package stage implements the structured generation contract: build a
// request from a template and the incoming payload, call the backend,
// repair the response into JSON, validate it, and retry within a bounded
// budget. All retry policy lives here; the backend only classifies
// failures and the orchestrator only sequences stages.
package stage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"labgenie/internal/backend"
	"labgenie/internal/errlog"
	"labgenie/internal/jsonrepair"
)

// Status of a completed stage invocation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Attempt records one generation try. Every attempt lands in the result's
// history, whether it produced text or failed in transport.
type Attempt struct {
	Index    int           `json:"index"`
	Raw      string        `json:"raw,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Result is the outcome of one stage invocation.
type Result struct {
	Stage    string
	Status   Status
	Payload  map[string]any
	Missing  []string // required fields absent when Status is StatusPartial
	Attempts []Attempt
	Duration time.Duration
	Err      error // set when Status is StatusError
}

// Spec declares a stage: name, required response fields, sampling
// parameters, and how to build the user prompt from the incoming payload.
type Spec struct {
	Name     string
	Required []string
	Params   backend.Params
	// BuildPrompt renders the user prompt from the stage input.
	BuildPrompt func(input map[string]any) (string, error)
	// Finalize, when set, enriches a validated payload with data carried
	// from the stage input before the payload moves downstream.
	Finalize func(input, payload map[string]any)
}

// strictSuffix is appended to every prompt so models that ignore the JSON
// response MIME type still answer with bare JSON.
const strictSuffix = "\n\nSTRICT OUTPUT REQUIREMENTS:\n" +
	"- Respond with a single valid JSON object and nothing else.\n" +
	"- No markdown fences, no commentary, no trailing text.\n" +
	"- Use double quotes for all keys and string values."

// PromptSource resolves a stage name to its system instruction.
type PromptSource interface {
	Load(stage string) (string, error)
}

// PromptFunc adapts a function to PromptSource.
type PromptFunc func(stage string) (string, error)

func (f PromptFunc) Load(stage string) (string, error) { return f(stage) }

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 8 * time.Second
)

// Runner executes stages against one backend. Transient transport
// failures and unrepairable responses draw from a single attempt budget;
// permanent, content-blocked and cancelled failures end the stage at once.
// Sleep and Now are injection points for tests.
type Runner struct {
	Backend backend.Backend
	Prompts PromptSource
	Sink    errlog.Sink
	Log     *zap.Logger

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Run performs one stage invocation. The returned result always carries
// the full attempt history; terminal failures are appended to the sink
// before Run returns.
func (r *Runner) Run(ctx context.Context, spec Spec, input map[string]any) Result {
	start := r.now()
	res := Result{Stage: spec.Name}

	system, err := r.Prompts.Load(spec.Name)
	if err != nil {
		return r.fail(&res, start, errlog.CategoryConfig, fmt.Errorf("prompt template: %w", err), "")
	}
	prompt, err := spec.BuildPrompt(input)
	if err != nil {
		return r.fail(&res, start, errlog.CategoryConfig, fmt.Errorf("prompt build: %w", err), "")
	}

	// One request, reused unchanged across attempts.
	req := backend.Request{
		System:     system,
		Prompt:     prompt + strictSuffix,
		JSONOutput: true,
		Params:     spec.Params,
	}

	var lastErr error
	lastCategory := errlog.CategoryTransient
	lastRaw := ""

	maxAttempts := r.maxAttempts()
	for i := 1; i <= maxAttempts; i++ {
		if i > 1 {
			if err := r.sleep(ctx, r.backoff(i)); err != nil {
				return r.fail(&res, start, errlog.CategoryCancelled,
					fmt.Errorf("cancelled during backoff: %w", err), lastRaw)
			}
		}
		if err := ctx.Err(); err != nil {
			return r.fail(&res, start, errlog.CategoryCancelled, err, lastRaw)
		}

		attemptStart := r.now()
		raw, genErr := r.Backend.Generate(ctx, req)
		att := Attempt{Index: i, Duration: r.now().Sub(attemptStart), At: attemptStart}

		if genErr != nil {
			att.Err = genErr.Error()
			res.Attempts = append(res.Attempts, att)
			cat := backend.CategoryOf(genErr)
			if cat != errlog.CategoryTransient {
				return r.fail(&res, start, cat, genErr, "")
			}
			lastErr, lastCategory = genErr, cat
			r.Log.Warn("generation attempt failed",
				zap.String("stage", spec.Name),
				zap.Int("attempt", i),
				zap.Error(genErr))
			continue
		}

		att.Raw = raw
		payload, repErr := jsonrepair.Repair(raw)
		if repErr != nil {
			att.Err = repErr.Error()
			res.Attempts = append(res.Attempts, att)
			lastErr, lastCategory, lastRaw = repErr, errlog.CategoryRepair, raw
			r.Log.Warn("response repair failed",
				zap.String("stage", spec.Name),
				zap.Int("attempt", i),
				zap.Error(repErr))
			continue
		}
		res.Attempts = append(res.Attempts, att)

		if spec.Finalize != nil {
			spec.Finalize(input, payload)
		}
		res.Payload = payload
		res.Duration = r.now().Sub(start)

		if missing := missingFields(payload, spec.Required); len(missing) > 0 {
			res.Status = StatusPartial
			res.Missing = missing
			r.Log.Warn("stage returned partial payload",
				zap.String("stage", spec.Name),
				zap.Strings("missing", missing))
			return res
		}

		res.Status = StatusOK
		r.Log.Info("stage complete",
			zap.String("stage", spec.Name),
			zap.Int("attempts", i),
			zap.Duration("elapsed", res.Duration))
		return res
	}

	exhausted := fmt.Errorf("stage %s exhausted %d attempts: %w", spec.Name, maxAttempts, lastErr)
	return r.fail(&res, start, lastCategory, exhausted, lastRaw)
}

// fail finalizes an error result and appends one record to the sink.
func (r *Runner) fail(res *Result, start time.Time, cat errlog.Category, err error, raw string) Result {
	res.Status = StatusError
	res.Err = err
	res.Payload = nil
	res.Duration = r.now().Sub(start)
	r.Sink.Append(errlog.Record{
		Time:     r.now(),
		Stage:    res.Stage,
		Backend:  r.Backend.Name(),
		Category: cat,
		Message:  err.Error(),
		Excerpt:  jsonrepair.Excerpt(raw),
	})
	r.Log.Error("stage failed",
		zap.String("stage", res.Stage),
		zap.String("category", string(cat)),
		zap.Error(err))
	return *res
}

func missingFields(payload map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if v, ok := payload[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func (r *Runner) maxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

// backoff returns the delay before the given attempt (attempt >= 2):
// the base doubles each retry, bounded by MaxDelay.
func (r *Runner) backoff(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	bound := r.MaxDelay
	if bound <= 0 {
		bound = DefaultMaxDelay
	}
	d := base << uint(attempt-2)
	if d <= 0 || d > bound {
		d = bound
	}
	return d
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
