package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/generate"
	"github.com/kalambet/sectiond/internal/sections"
	"github.com/kalambet/sectiond/internal/storage"
	"github.com/kalambet/sectiond/internal/worker"
)

type AssembleRequest struct {
	Text      string `json:"text"`
	Delimited bool   `json:"delimited"`
}

type KeyRequest struct {
	Namespace string          `json:"namespace"`
	Payload   json.RawMessage `json:"payload"`
}

type GenerateRequest struct {
	Payload json.RawMessage `json:"payload"`
	Force   bool            `json:"force_regenerate"`
}

type generationView struct {
	ID        string             `json:"id"`
	Operation string             `json:"operation"`
	Key       string             `json:"key"`
	Model     string             `json:"model,omitempty"`
	Payload   json.RawMessage    `json:"payload,omitempty"`
	Sections  []sections.Section `json:"sections"`
	RawOutput string             `json:"raw_output,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type jobView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ResultID    string    `json:"result_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var secs []sections.Section
	if req.Delimited {
		secs = sections.AssembleDelimited(req.Text)
	} else {
		secs = sections.Assemble(req.Text)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": secs})
}

func handleKeys(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Namespace) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "namespace is required")
		return
	}
	payload, err := generate.NormalizePayload(req.Payload)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	key, err := cache.KeyFor(req.Namespace, payload)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func handleOperations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Service.Registry().List())
	}
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body GenerateRequest
		if !decodeBody(w, r, &body) {
			return
		}

		res, err := deps.Service.Generate(r.Context(), generate.Request{
			Operation: chi.URLParam(r, "operation"),
			Payload:   body.Payload,
			Force:     body.Force,
		})
		if err != nil {
			generateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// generateError maps generation failures onto HTTP statuses.
func generateError(w http.ResponseWriter, err error) {
	var upstream *generate.UpstreamError
	switch {
	case errors.Is(err, generate.ErrUnknownOperation):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, generate.ErrEmptyPayload), errors.Is(err, generate.ErrInvalidPayload):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &upstream):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "generation failed: %v", err)
	}
}

func handleEnqueueJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generate.Request
		if !decodeBody(w, r, &req) {
			return
		}
		if _, ok := deps.Service.Registry().Lookup(req.Operation); !ok {
			httpError(w, http.StatusNotFound, "not_found", "%v: %q", generate.ErrUnknownOperation, req.Operation)
			return
		}
		payload, err := generate.NormalizePayload(req.Payload)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Payload = payload

		job, err := worker.NewJob(req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     job.ID,
			"status": "queued",
		})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, jobView{
			ID:          job.ID,
			Type:        job.Type,
			Status:      job.Status,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			ResultID:    job.ResultID,
			CreatedAt:   job.CreatedAt,
			UpdatedAt:   job.UpdatedAt,
		})
	}
}

func handleListGenerations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		gens, err := deps.Store.ListGenerations(limit, offset, r.URL.Query().Get("operation"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list generations: %v", err)
			return
		}

		views := make([]generationView, len(gens))
		for i, g := range gens {
			views[i] = toGenerationView(g, false)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetGeneration(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := deps.Store.GetGeneration(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get generation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toGenerationView(g, true))
	}
}

func handleDeleteGeneration(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteGeneration(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete generation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// toGenerationView decodes the stored sections. detail adds the payload and
// raw model output.
func toGenerationView(g storage.Generation, detail bool) generationView {
	v := generationView{
		ID:        g.ID,
		Operation: g.Operation,
		Key:       g.CacheKey,
		Model:     g.Model,
		Sections:  []sections.Section{},
		CreatedAt: g.CreatedAt,
	}
	if err := json.Unmarshal([]byte(g.SectionsJSON), &v.Sections); err != nil || v.Sections == nil {
		v.Sections = []sections.Section{}
	}
	if detail {
		if json.Valid([]byte(g.PayloadJSON)) {
			v.Payload = json.RawMessage(g.PayloadJSON)
		}
		v.RawOutput = g.RawOutput
	}
	return v
}
