package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/ops"
	"github.com/hpungsan/convoset/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	st  store.Store
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st store.Store, cfg *config.Config) *Handlers {
	return &Handlers{st: st, cfg: cfg}
}

// Request types for each tool

// NameRequest carries just a dataset name (create, records, stats).
type NameRequest struct {
	Name string `json:"name"`
}

// AppendRequest represents the arguments for dataset_append.
type AppendRequest struct {
	Name    string         `json:"name"`
	Role    string         `json:"role"`
	Message string         `json:"message"`
	Traits  dataset.Traits `json:"traits"`
	Mood    string         `json:"mood,omitempty"`
	Emotion string         `json:"emotion,omitempty"`
	NSFW    int            `json:"nsfw,omitempty"`
	Encrypt bool           `json:"encrypt,omitempty"`
}

// EditRequest represents the arguments for dataset_edit.
type EditRequest struct {
	Name     string  `json:"name"`
	Index    *int    `json:"index"`
	Prompt   *string `json:"prompt,omitempty"`
	Response *string `json:"response,omitempty"`
}

// TruncateRequest represents the arguments for dataset_truncate.
type TruncateRequest struct {
	Name  string `json:"name"`
	Index *int   `json:"index"`
}

// BranchRequest represents the arguments for dataset_branch.
type BranchRequest struct {
	Name    string `json:"name"`
	Index   *int   `json:"index"`
	NewName string `json:"new_name"`
}

// ExportRequest represents the arguments for dataset_export.
type ExportRequest struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// Handler implementations

// HandleList handles the dataset_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListDatasets(ctx, h.st)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCreate handles the dataset_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreateDataset(ctx, h.st, input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRecords handles the dataset_records tool call.
func (h *Handlers) HandleRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Records(ctx, h.st, input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAppend handles the dataset_append tool call.
func (h *Handlers) HandleAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AppendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	opsInput := ops.AppendTurnInput{
		Name:    input.Name,
		Role:    input.Role,
		Message: input.Message,
		Traits:  input.Traits,
		Mood:    input.Mood,
		Emotion: input.Emotion,
		NSFW:    input.NSFW,
	}
	if input.Encrypt {
		if h.cfg.Passphrase == "" {
			return errorResult(errors.NewInvalidRequest("encrypt requested but no passphrase is configured")), nil
		}
		opsInput.Passphrase = h.cfg.Passphrase
	}

	result, err := ops.AppendTurn(ctx, h.st, opsInput)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleEdit handles the dataset_edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Index == nil {
		return errorResult(errors.NewInvalidRequest("index is required")), nil
	}

	result, err := ops.EditTurn(ctx, h.st, ops.EditTurnInput{
		Name:     input.Name,
		Index:    *input.Index,
		Prompt:   input.Prompt,
		Response: input.Response,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTruncate handles the dataset_truncate tool call.
func (h *Handlers) HandleTruncate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TruncateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Index == nil {
		return errorResult(errors.NewInvalidRequest("index is required")), nil
	}

	result, err := ops.Truncate(ctx, h.st, ops.TruncateInput{
		Name:  input.Name,
		Index: *input.Index,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBranch handles the dataset_branch tool call.
func (h *Handlers) HandleBranch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BranchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Index == nil {
		return errorResult(errors.NewInvalidRequest("index is required")), nil
	}

	result, err := ops.Branch(ctx, h.st, ops.BranchInput{
		Name:    input.Name,
		Index:   *input.Index,
		NewName: input.NewName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the dataset_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.st, h.cfg, ops.ExportInput{
		Name:   input.Name,
		Path:   input.Path,
		Format: input.Format,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStats handles the dataset_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Stats(ctx, h.st, input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	cErr := errors.As(err)
	errorObj := map[string]any{
		"code":    cErr.Code,
		"message": cErr.Message,
		"status":  cErr.Status,
	}
	if cErr.Code != errors.ErrInternal && cErr.Details != nil {
		errorObj["details"] = cErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
