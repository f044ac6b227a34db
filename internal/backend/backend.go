// Package backend abstracts the generation provider behind a small
// capability interface. Callers hand over a fully built request and get raw
// text back; retry policy lives upstream, driven by the error categories
// attached here.
package backend

import (
	"context"
	"errors"
	"fmt"

	"labgenie/internal/errlog"
)

// Params are the sampling parameters for one generation call.
type Params struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

// Request describes one generation call. A Request is built once per stage
// invocation and reused unchanged across retry attempts.
type Request struct {
	System     string
	Prompt     string
	JSONOutput bool
	Params     Params
}

// Backend is the generation capability a stage runs against.
type Backend interface {
	// Generate performs one model call and returns the raw response text.
	// Failures carry a *Error so callers can classify them.
	Generate(ctx context.Context, req Request) (string, error)
	// Name identifies the provider variant ("gemini", "vertex").
	Name() string
	// Model is the model identifier this backend is bound to.
	Model() string
}

// Error attaches a failure category to a generation error.
type Error struct {
	Backend  string
	Category errlog.Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf extracts the failure category from err. Errors without an
// attached category are treated as transient: unclassified transport
// failures are the ones a retry is most likely to fix.
func CategoryOf(err error) errlog.Category {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}
	if errors.Is(err, context.Canceled) {
		return errlog.CategoryCancelled
	}
	return errlog.CategoryTransient
}

// IsRetryable reports whether the stage layer may spend another attempt on
// this failure.
func IsRetryable(err error) bool {
	return CategoryOf(err) == errlog.CategoryTransient
}
