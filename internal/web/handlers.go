package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/config"
	"github.com/okzhou/mdmend/internal/errors"
	"github.com/okzhou/mdmend/internal/stream"
)

// Handlers contains HTTP route handlers.
type Handlers struct {
	svc      *chat.Service
	cfg      *config.Config
	renderer *Renderer
}

// startRequest is the body for POST /chat/start.
type startRequest struct {
	Title   string `json:"title,omitempty"`
	System  string `json:"system,omitempty"`
	Message string `json:"message"`
}

// sendRequest is the body for POST /chat/send.
type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// renameRequest is the body for POST /conversations/rename.
type renameRequest struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// HandleStart handles POST /chat/start — create a conversation and stream
// the first reply.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	in := chat.StartInput{Title: req.Title, System: req.System, Message: req.Message}

	if shouldStream(r) {
		sink, ok := newSSESink(w)
		if !ok {
			writeError(w, errors.NewInternal(nil))
			return
		}
		// Errors surfaced as stream events; the connection is committed.
		_, _, _ = h.svc.Start(r.Context(), in, sink)
		return
	}

	id, final, err := h.svc.Start(r.Context(), in, stream.Discard)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": id,
		"reply":           final,
	})
}

// HandleSend handles POST /chat/send — stream a follow-up reply.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	if shouldStream(r) {
		// Conversation lookup happens before the stream is committed, so a
		// missing ID can still fail with a proper status code.
		if _, err := h.svc.Store().Conversation(req.ConversationID); err != nil {
			writeError(w, err)
			return
		}
		sink, ok := newSSESink(w)
		if !ok {
			writeError(w, errors.NewInternal(nil))
			return
		}
		_, _ = h.svc.Send(r.Context(), req.ConversationID, req.Message, sink)
		return
	}

	final, err := h.svc.Send(r.Context(), req.ConversationID, req.Message, stream.Discard)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": final})
}

// HandleHistory handles GET /chat/history — paged messages of a conversation.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, errors.NewInvalidRequest("conversation_id is required"))
		return
	}
	page := parseIntParam(r, "page", 1)
	size := parseIntParam(r, "size", h.cfg.HistoryLimit)

	result, err := h.svc.History(conversationID, page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleConversations handles GET /conversations — recent conversations.
func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)

	items, err := h.svc.Store().Conversations(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	type item struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		UpdatedAt int64  `json:"updated_at"`
	}
	out := make([]item, 0, len(items))
	for _, c := range items {
		out = append(out, item{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// HandleConversationPage handles GET /conversations/{id} — HTML transcript
// preview with messages rendered as markdown.
func (h *Handlers) HandleConversationPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := h.svc.Store().Conversation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.svc.History(id, 1, h.cfg.HistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	h.renderer.renderConversation(w, conv, history.Items)
}

// HandleRename handles POST /conversations/rename.
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, errors.NewInvalidRequest("title is required"))
		return
	}
	if err := h.svc.Store().Rename(req.ConversationID, title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete handles DELETE /conversations/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Store().Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// shouldStream reports whether the client asked for an SSE response, either
// via the Accept header or an explicit stream query parameter.
func shouldStream(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		return true
	}
	switch strings.ToLower(r.URL.Query().Get("stream")) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// sseSink delivers stream events as SSE frames, flushing after each one.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

// newSSESink commits the response as an event stream.
func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseSink{w: w, f: f}, true
}

// Send writes one encoded event frame.
func (s *sseSink) Send(ev stream.Event) error {
	if _, err := s.w.Write(ev.Encode()); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	payload := map[string]any{
		"error": map[string]any{"code": string(errors.ErrInternal), "message": "an internal error occurred"},
	}
	if e, ok := err.(*errors.Error); ok {
		status = e.Status
		payload["error"] = map[string]any{"code": string(e.Code), "message": e.Message}
	}
	writeJSON(w, status, payload)
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
