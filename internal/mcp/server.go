// Package mcp exposes the chat pipeline to agents over the Model Context
// Protocol: blocking chat turns, history retrieval, and rule-cache reload.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/filter"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"chat_send": {
		def:     sendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSend },
	},
	"chat_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"rules_reload": {
		def:     rulesReloadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRulesReload },
	},
}

// NewServer creates a new MCP server with mdmend tools registered.
func NewServer(svc *chat.Service, flt *filter.Filter, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"mdmend",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(svc, flt)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc *chat.Service, flt *filter.Filter, version string) error {
	s := NewServer(svc, flt, version)
	return server.ServeStdio(s)
}
