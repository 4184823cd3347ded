package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askd/internal/query"
)

// NewMCPServer creates an MCP server exposing the same operations as the HTTP API.
func NewMCPServer(svc *query.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"askd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askd — ask Gemini a question; every question and answer is kept in a shared history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the configured Gemini model a question. The question and answer are saved to history."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(svc),
	)

	s.AddTool(
		mcp.NewTool("history",
			mcp.WithDescription("List the most recent questions and answers, newest first."),
			mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum number of records (default and max %d)", query.HistoryLimit))),
		),
		mcpHistory(svc),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Delete every saved question and answer."),
		),
		mcpClearHistory(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 questions (answers truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(svc),
	)

	return s
}

func mcpAsk(svc *query.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := svc.Ask(context.WithoutCancel(ctx), question)
		if errors.Is(err, query.ErrEmptyQuestion) {
			return mcpError("Empty question"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("saving query: %w", err)
		}

		if res.Err != nil {
			return mcpError(res.Answer), nil
		}
		return mcpText(res.Answer), nil
	}
}

func mcpHistory(svc *query.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", query.HistoryLimit)
		if limit <= 0 || limit > query.HistoryLimit {
			limit = query.HistoryLimit
		}

		records, err := svc.History(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("loading history failed: %v", err)), nil
		}
		if len(records) > limit {
			records = records[:limit]
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearHistory(svc *query.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := svc.Clear(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("clearing history failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("History cleared (%d records removed)", n)), nil
	}
}

func mcpResourceRecent(svc *query.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := svc.History(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent queries: %w", err)
		}
		if len(records) > 10 {
			records = records[:10]
		}

		type querySummary struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
		}

		summaries := make([]querySummary, len(records))
		for i, rec := range records {
			summaries[i] = querySummary{
				ID:        rec.ID,
				Timestamp: rec.Timestamp.Format(time.RFC3339),
				Question:  rec.Question,
				Answer:    truncate(rec.Answer, 200),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queries: %w", err)
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

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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
