package mcp

import "github.com/mark3labs/mcp-go/mcp"

// sendToolDef describes chat_send: blocking chat turn, repaired + filtered.
var sendToolDef = mcp.NewTool("chat_send",
	mcp.WithDescription("Send a chat message. Starts a new conversation when conversation_id is omitted. Returns the final repaired and filtered reply; the same text is persisted to history."),
	mcp.WithString("conversation_id",
		mcp.Description("Existing conversation to continue. Omit to start a new one."),
	),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("User message for this turn."),
	),
	mcp.WithString("system",
		mcp.Description("Pinned system prompt for a new conversation. Ignored when conversation_id is set."),
	),
	mcp.WithString("title",
		mcp.Description("Title for a new conversation."),
	),
)

// historyToolDef describes chat_history: paged transcript retrieval.
var historyToolDef = mcp.NewTool("chat_history",
	mcp.WithDescription("Fetch one page of a conversation's messages in order."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to read."),
	),
	mcp.WithNumber("page",
		mcp.Description("Page number, starting at 1."),
	),
	mcp.WithNumber("size",
		mcp.Description("Messages per page."),
	),
)

// rulesReloadToolDef describes rules_reload: filter cache invalidation.
var rulesReloadToolDef = mcp.NewTool("rules_reload",
	mcp.WithDescription("Invalidate the content-filter rule cache so the next stream reloads rules from the store. Call after mutating the rule set."),
)
