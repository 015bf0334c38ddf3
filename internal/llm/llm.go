// Package llm provides text-completion backends for the generation service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is one completion call.
type Request struct {
	// Model overrides the backend's default model when non-empty.
	Model  string
	System string
	Prompt string
	// JSON asks the backend for a JSON response when it supports it.
	JSON bool
}

// Response is the raw model output.
type Response struct {
	Text  string
	Model string
}

// Completer produces text for a prompt. Implementations own timeouts and
// retries for their transport.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Provider names accepted by New.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

// Options selects and configures a backend.
type Options struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// ErrMissingAPIKey is returned by New for hosted providers without a key.
var ErrMissingAPIKey = errors.New("llm: API key is required")

// StatusError reports a non-success HTTP status from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// New builds the Completer named by opts.Provider.
func New(ctx context.Context, opts Options) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderOpenRouter, "":
		if opts.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		c := NewOpenRouter(opts.APIKey, opts.Model)
		if opts.BaseURL != "" {
			c = NewOpenRouterWithBaseURL(opts.APIKey, opts.Model, opts.BaseURL)
		}
		return c, nil
	case ProviderOllama:
		base := opts.BaseURL
		if base == "" {
			base = DefaultOllamaURL
		}
		return NewOllama(base, opts.Model), nil
	case ProviderGemini:
		if opts.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewGemini(ctx, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}
}

func modelOr(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
