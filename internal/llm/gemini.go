package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient completes prompts with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed Completer.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := modelOr(req, g.model)

	var cfg *genai.GenerateContentConfig
	if req.System != "" || req.JSON {
		cfg = &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		if req.JSON {
			cfg.ResponseMIMEType = "application/json"
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		if se := statusFromAPIError(err); se != nil {
			return Response{}, se
		}
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}

	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return Response{Text: resp.Text(), Model: model}, nil
}

func statusFromAPIError(err error) *StatusError {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return &StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	return nil
}
