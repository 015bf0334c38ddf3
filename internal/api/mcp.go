package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/generate"
	"github.com/kalambet/sectiond/internal/sections"
	"github.com/kalambet/sectiond/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *generate.Service
	Store   *storage.Store // optional; if nil, sectiond://recent is not registered
}

// NewMCPServer creates an MCP server with the sectiond tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sectiond",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sectiond splits model output into titled sections and caches generations by payload."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("assemble_sections",
			mcp.WithDescription("Split raw model output into an ordered list of titled sections."),
			mcp.WithString("text", mcp.Description("Raw model output"), mcp.Required()),
			mcp.WithBoolean("delimited", mcp.Description("Parse ###NAME### delimited blocks first")),
		),
		mcpAssemble(),
	)

	s.AddTool(
		mcp.NewTool("cache_key",
			mcp.WithDescription("Compute the regeneration cache key for a namespace and JSON payload."),
			mcp.WithString("namespace", mcp.Description("Operation namespace, e.g. diagnosis"), mcp.Required()),
			mcp.WithString("payload", mcp.Description("JSON payload"), mcp.Required()),
		),
		mcpCacheKey(),
	)

	s.AddTool(
		mcp.NewTool("generate",
			mcp.WithDescription("Run a generation operation over a JSON payload, reusing a cached result when one is live."),
			mcp.WithString("operation", mcp.Description("Operation name (see sectiond://operations)"), mcp.Required()),
			mcp.WithString("payload", mcp.Description("JSON payload"), mcp.Required()),
			mcp.WithBoolean("force_regenerate", mcp.Description("Ignore any cached result")),
		),
		mcpGenerate(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sectiond://operations",
			"Operations",
			mcp.WithResourceDescription("Registered generation operations as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceOperations(deps),
	)

	if deps.Store != nil {
		s.AddResource(
			mcp.NewResource(
				"sectiond://recent",
				"Recent Generations",
				mcp.WithResourceDescription("Last 10 stored generations (section titles only)"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpAssemble() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		var secs []sections.Section
		if req.GetBool("delimited", false) {
			secs = sections.AssembleDelimited(text)
		} else {
			secs = sections.Assemble(text)
		}
		return mcpJSON(secs)
	}
}

func mcpCacheKey() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		namespace, err := req.RequireString("namespace")
		if err != nil || namespace == "" {
			return mcpError("namespace is required"), nil
		}
		raw, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}

		payload, err := generate.NormalizePayload(json.RawMessage(raw))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		key, err := cache.KeyFor(namespace, payload)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(key), nil
	}
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		op, err := req.RequireString("operation")
		if err != nil {
			return mcpError("operation is required"), nil
		}
		raw, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}

		res, err := deps.Service.Generate(ctx, generate.Request{
			Operation: op,
			Payload:   json.RawMessage(raw),
			Force:     req.GetBool("force_regenerate", false),
		})
		if err != nil {
			var upstream *generate.UpstreamError
			if errors.As(err, &upstream) {
				return mcpError(fmt.Sprintf("generation failed upstream: %v", upstream.Err)), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceOperations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Service.Registry().List())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal operations: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		gens, err := deps.Store.ListGenerations(10, 0, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list recent generations: %w", err)
		}

		type generationSummary struct {
			ID        string   `json:"id"`
			Operation string   `json:"operation"`
			Key       string   `json:"key"`
			CreatedAt string   `json:"created_at"`
			Titles    []string `json:"titles"`
		}

		summaries := make([]generationSummary, len(gens))
		for i, g := range gens {
			v := toGenerationView(g, false)
			summaries[i] = generationSummary{
				ID:        g.ID,
				Operation: g.Operation,
				Key:       g.CacheKey,
				CreatedAt: g.CreatedAt.Format(time.RFC3339),
				Titles:    sections.Titles(v.Sections),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generations: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
