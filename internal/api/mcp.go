package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/storage"
	"github.com/kalambet/strokeinsight/internal/summary"
)

// MCPPredictor scores a spreadsheet on local disk.
type MCPPredictor interface {
	PredictFile(ctx context.Context, path, username string) prediction.Outcome
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Predictor MCPPredictor
	Runs      RunReader
	// Username is recorded on runs started through MCP.
	Username string
}

const recentRunsLimit = 10

// NewMCPServer creates an MCP server exposing prediction and the run log.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Username == "" {
		deps.Username = "mcp"
	}
	s := server.NewMCPServer(
		"strokeinsight",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("strokeinsight: stroke risk predictions for patient spreadsheets, and the log of past analyses."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("predict_spreadsheet",
			mcp.WithDescription("Run the stroke model over an .xlsx or .xls file on local disk and record the analysis."),
			mcp.WithString("path", mcp.Description("Absolute path of the spreadsheet"), mcp.Required()),
		),
		mcpPredict(deps),
	)

	s.AddTool(
		mcp.NewTool("list_runs",
			mcp.WithDescription("List recorded analyses, oldest first, with their summaries."),
			mcp.WithNumber("limit", mcp.Description("Only return the most recent N runs (default all)")),
		),
		mcpListRuns(deps),
	)

	s.AddTool(
		mcp.NewTool("get_run",
			mcp.WithDescription("Return one recorded analysis with per-patient results."),
			mcp.WithString("timestamp", mcp.Description("Run timestamp as returned by list_runs"), mcp.Required()),
		),
		mcpGetRun(deps),
	)

	s.AddTool(
		mcp.NewTool("describe_error",
			mcp.WithDescription("Explain a prediction error code and how to fix the input."),
			mcp.WithString("code", mcp.Description("Error code, e.g. MISSING_COLUMNS"), mcp.Required()),
		),
		mcpDescribeError(),
	)

	s.AddResource(
		mcp.NewResource(
			"runs://recent",
			"Recent Analyses",
			mcp.WithResourceDescription("Summaries of the last 10 recorded analyses"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpPredict(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		out := deps.Predictor.PredictFile(ctx, path, deps.Username)
		b, err := json.Marshal(prediction.NewResponse(out))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if _, failed := out.(*prediction.Failure); failed {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

// runSummary is a run without its per-row results.
type runSummary struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	FileName  string          `json:"fileName"`
	Username  string          `json:"username"`
	Rows      int             `json:"rows"`
	Summary   summary.Summary `json:"summary"`
}

func summarizeRuns(runs []storage.Run) []runSummary {
	out := make([]runSummary, len(runs))
	for i, r := range runs {
		v := newRunView(r)
		out[i] = runSummary{
			ID:        v.ID,
			Timestamp: v.Timestamp,
			FileName:  v.FileName,
			Username:  v.Username,
			Rows:      len(v.Results),
			Summary:   v.Summary,
		}
	}
	return out
}

func mcpListRuns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runs, err := deps.Runs.ListRuns()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}
		if limit := req.GetInt("limit", 0); limit > 0 && limit < len(runs) {
			runs = runs[len(runs)-limit:]
		}

		b, err := json.Marshal(summarizeRuns(runs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetRun(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ts, err := req.RequireString("timestamp")
		if err != nil {
			return mcpError("timestamp is required"), nil
		}

		run, err := deps.Runs.GetRunByTimestamp(ts)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no run at %s", ts)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get run: %v", err)), nil
		}

		b, err := json.Marshal(newRunView(run))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal run: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDescribeError() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}
		kind, ok := prediction.ParseKind(code)
		if !ok {
			return mcpError(fmt.Sprintf("unknown error code %q", code)), nil
		}

		b, err := json.Marshal(errorCodeView{Code: kind, Info: prediction.Describe(kind)})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal description: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Runs.ListRuns()
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) > recentRunsLimit {
			runs = runs[len(runs)-recentRunsLimit:]
		}

		b, err := json.Marshal(summarizeRuns(runs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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
