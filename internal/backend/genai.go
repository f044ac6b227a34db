package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"labgenie/internal/errlog"
)

// Variant selects the credential flavor of the Gemini client.
type Variant string

const (
	VariantGemini Variant = "gemini"
	VariantVertex Variant = "vertex"
)

// Client talks to the Gemini model family through google.golang.org/genai.
// The underlying SDK client is built lazily on the first Generate call, so
// constructing a Client never touches the network.
type Client struct {
	variant  Variant
	model    string
	apiKey   string
	project  string
	location string
	log      *zap.Logger

	initOnce sync.Once
	client   *genai.Client
	initErr  error
}

// NewGeminiAPI returns a client for the public Gemini API, authenticated
// with an API key.
func NewGeminiAPI(apiKey, model string, log *zap.Logger) *Client {
	return &Client{variant: VariantGemini, model: model, apiKey: apiKey, log: log}
}

// NewVertex returns a client for Vertex AI, authenticated through
// application-default credentials for the given project and location.
func NewVertex(project, location, model string, log *zap.Logger) *Client {
	return &Client{variant: VariantVertex, model: model, project: project, location: location, log: log}
}

func (c *Client) Name() string  { return string(c.variant) }
func (c *Client) Model() string { return c.model }

func (c *Client) ensure(ctx context.Context) error {
	c.initOnce.Do(func() {
		cfg := &genai.ClientConfig{}
		switch c.variant {
		case VariantVertex:
			cfg.Backend = genai.BackendVertexAI
			cfg.Project = c.project
			cfg.Location = c.location
		default:
			cfg.Backend = genai.BackendGeminiAPI
			cfg.APIKey = c.apiKey
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			c.initErr = &Error{
				Backend:  c.Name(),
				Category: errlog.CategoryConfig,
				Err:      fmt.Errorf("failed to initialize genai client: %w", err),
			}
			return
		}
		c.client = client
		c.log.Debug("generation client ready",
			zap.String("backend", c.Name()),
			zap.String("model", c.model))
	})
	return c.initErr
}

// Generate performs a single generation call. Safety blocks, rate limits
// and request errors come back as *Error with the matching category.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.ensure(ctx); err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Params.Temperature),
		TopP:            genai.Ptr(req.Params.TopP),
		MaxOutputTokens: req.Params.MaxOutputTokens,
	}
	if req.Params.TopK > 0 {
		cfg.TopK = genai.Ptr(req.Params.TopK)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	elapsed := time.Since(start)
	if err != nil {
		return "", c.classify(ctx, err)
	}

	if reason := blockReason(resp); reason != "" {
		return "", &Error{
			Backend:  c.Name(),
			Category: errlog.CategoryContentBlocked,
			Err:      fmt.Errorf("generation blocked (%s)", reason),
		}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{
			Backend:  c.Name(),
			Category: errlog.CategoryTransient,
			Err:      errors.New("model returned an empty completion"),
		}
	}

	c.log.Debug("generation complete",
		zap.String("model", c.model),
		zap.Duration("elapsed", elapsed),
		zap.Int("chars", len(text)))
	return text, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Backend: c.Name(), Category: errlog.CategoryCancelled, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Backend: c.Name(), Category: categoryForStatus(apiErr.Code), Err: err}
	}

	// Timeouts and connection drops have no status code; spend a retry.
	return &Error{Backend: c.Name(), Category: errlog.CategoryTransient, Err: err}
}

func categoryForStatus(code int) errlog.Category {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return errlog.CategoryTransient
	case code >= 400 && code < 500:
		return errlog.CategoryPermanent
	default:
		return errlog.CategoryTransient
	}
}

// blockReason reports why a response carries no usable text: a blocked
// prompt or a safety-terminated candidate.
func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if fb := resp.PromptFeedback; fb != nil &&
		fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return "prompt block: " + string(fb.BlockReason)
	}
	if len(resp.Candidates) > 0 {
		switch fr := resp.Candidates[0].FinishReason; fr {
		case genai.FinishReasonSafety,
			genai.FinishReasonProhibitedContent,
			genai.FinishReasonBlocklist,
			genai.FinishReasonSPII:
			return "finish reason: " + string(fr)
		}
	}
	return ""
}
