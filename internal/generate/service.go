// Package generate runs generation operations: it prompts a model, turns
// the answer into sections and memoizes the result per request payload.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/llm"
	"github.com/kalambet/sectiond/internal/metrics"
	"github.com/kalambet/sectiond/internal/render"
	"github.com/kalambet/sectiond/internal/sections"
	"github.com/kalambet/sectiond/internal/storage"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrEmptyPayload     = errors.New("payload is empty")
	ErrInvalidPayload   = errors.New("payload is not valid JSON")
)

// UpstreamError wraps a failure of the model call.
type UpstreamError struct {
	Operation string
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream generation failed: %v", e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// GenerationStore persists fresh generations. Implemented by storage.Store.
type GenerationStore interface {
	SaveGeneration(g storage.Generation) error
}

// Request asks for one operation to run over payload.
type Request struct {
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Force     bool            `json:"force_regenerate,omitempty"`
}

// Result is what a generation returns, cached or fresh.
type Result struct {
	Operation    string             `json:"operation"`
	Key          string             `json:"key"`
	Cached       bool               `json:"cached"`
	Sections     []sections.Section `json:"sections"`
	Printable    *render.Document   `json:"printable,omitempty"`
	GenerationID string             `json:"generation_id,omitempty"`
	Model        string             `json:"model,omitempty"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// output is the value memoized in the cache.
type output struct {
	Sections     []sections.Section
	GenerationID string
	Model        string
	GeneratedAt  time.Time
}

// Service runs registered operations through the regeneration cache.
type Service struct {
	completer llm.Completer
	cache     *cache.Cache
	store     GenerationStore
	registry  *Registry
}

// NewService wires a Service. store may be nil to skip persistence; a nil
// registry uses the built-in operations.
func NewService(completer llm.Completer, c *cache.Cache, store GenerationStore, registry *Registry) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if c == nil {
		c = cache.New()
	}
	return &Service{
		completer: completer,
		cache:     c,
		store:     store,
		registry:  registry,
	}
}

// Registry returns the operations the service knows.
func (s *Service) Registry() *Registry { return s.registry }

// Generate returns the sections for req, from the cache when a live entry
// exists and Force is unset. A failed model call is returned as an
// *UpstreamError and nothing is cached.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	op, ok := s.registry.Lookup(req.Operation)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	payload, err := NormalizePayload(req.Payload)
	if err != nil {
		return Result{}, err
	}

	key, err := cache.KeyFor(op.Namespace, payload)
	if err != nil {
		return Result{}, err
	}

	out, hit, err := cache.Do(ctx, s.cache, op.Namespace, payload, req.Force, func(ctx context.Context) (output, error) {
		return s.produce(ctx, op, key, payload)
	})
	if err != nil {
		metrics.ObserveGeneration(op.Name, "error", time.Since(start))
		return Result{}, err
	}

	status := "generated"
	if hit {
		status = "cached"
	}
	metrics.ObserveGeneration(op.Name, status, time.Since(start))
	slog.Debug("generation served", "operation", op.Name, "key", key, "cached", hit, "sections", len(out.Sections))

	res := Result{
		Operation:    op.Name,
		Key:          key,
		Cached:       hit,
		Sections:     slices.Clone(out.Sections),
		GenerationID: out.GenerationID,
		Model:        out.Model,
		GeneratedAt:  out.GeneratedAt,
	}
	if op.Vocabulary != nil {
		doc := render.Printable(out.Sections, op.Vocabulary)
		res.Printable = &doc
	}
	return res, nil
}

func (s *Service) produce(ctx context.Context, op Operation, key string, payload json.RawMessage) (output, error) {
	resp, err := s.completer.Complete(ctx, llm.Request{
		Model:  op.Model,
		System: systemPrompt(op),
		Prompt: userPrompt(payload),
		JSON:   op.JSON,
	})
	if err != nil {
		return output{}, &UpstreamError{Operation: op.Name, Err: err}
	}

	var secs []sections.Section
	if op.Delimited {
		secs = sections.AssembleDelimited(resp.Text)
	} else {
		secs = sections.Assemble(resp.Text)
	}
	metrics.AssembledSections.WithLabelValues(op.Name).Observe(float64(len(secs)))

	out := output{Sections: secs, Model: resp.Model, GeneratedAt: time.Now().UTC()}
	if s.store == nil {
		return out, nil
	}

	secsJSON, err := json.Marshal(secs)
	if err != nil {
		slog.Warn("encoding sections for storage failed", "operation", op.Name, "error", err)
		return out, nil
	}
	gen := storage.Generation{
		ID:           uuid.New().String(),
		Operation:    op.Name,
		CacheKey:     key,
		PayloadJSON:  string(payload),
		RawOutput:    resp.Text,
		SectionsJSON: string(secsJSON),
		Model:        resp.Model,
		CreatedAt:    out.GeneratedAt,
	}
	if err := s.store.SaveGeneration(gen); err != nil {
		slog.Warn("persisting generation failed", "operation", op.Name, "key", key, "error", err)
		return out, nil
	}
	out.GenerationID = gen.ID
	return out, nil
}

// NormalizePayload compacts payload so formatting differences do not change
// the cache key.
func NormalizePayload(p json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func systemPrompt(op Operation) string {
	parts := make([]string, 0, 2)
	if op.System != "" {
		parts = append(parts, op.System)
	}
	if op.Format != "" {
		parts = append(parts, op.Format)
	}
	return strings.Join(parts, "\n\n")
}

func userPrompt(payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return "[Input]\n" + string(payload)
	}
	return "[Input]\n" + buf.String()
}
