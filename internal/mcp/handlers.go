package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/errors"
	"github.com/okzhou/mdmend/internal/filter"
	"github.com/okzhou/mdmend/internal/stream"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *chat.Service
	flt *filter.Filter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *chat.Service, flt *filter.Filter) *Handlers {
	return &Handlers{svc: svc, flt: flt}
}

// SendRequest represents the arguments for chat_send.
type SendRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	System         string `json:"system,omitempty"`
	Title          string `json:"title,omitempty"`
}

// SendResult is the chat_send response payload.
type SendResult struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// HistoryRequest represents the arguments for chat_history.
type HistoryRequest struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page,omitempty"`
	Size           int    `json:"size,omitempty"`
}

// HandleSend runs one blocking chat turn through the repair pipeline.
func (h *Handlers) HandleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.ConversationID == "" {
		id, final, err := h.svc.Start(ctx, chat.StartInput{
			Title:   input.Title,
			System:  input.System,
			Message: input.Message,
		}, stream.Discard)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(SendResult{ConversationID: id, Reply: final})
	}

	final, err := h.svc.Send(ctx, input.ConversationID, input.Message, stream.Discard)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(SendResult{ConversationID: input.ConversationID, Reply: final})
}

// HandleHistory returns one page of a conversation's messages.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ConversationID == "" {
		return errorResult(errors.NewInvalidRequest("conversation_id is required")), nil
	}

	result, err := h.svc.History(input.ConversationID, input.Page, input.Size)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRulesReload invalidates the filter rule cache.
func (h *Handlers) HandleRulesReload(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.flt.Invalidate()
	return successResult(map[string]bool{"reloaded": true})
}

// successResult wraps a payload as a JSON tool result.
func successResult(v any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(v)
}

// errorResult wraps a structured error as an MCP error result.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if e, ok := err.(*errors.Error); ok {
		errorObj := map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"status":  e.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if e.Code != errors.ErrInternal && e.Details != nil {
			errorObj["details"] = e.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}
