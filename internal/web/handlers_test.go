package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/config"
	"github.com/okzhou/mdmend/internal/db"
	"github.com/okzhou/mdmend/internal/filter"
	"github.com/okzhou/mdmend/internal/upstream"
)

// fakeUpstream serves a fixed reply as an OpenAI-style SSE stream.
func fakeUpstream(t *testing.T, fragments ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for _, f := range fragments {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": f}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupServer wires the full HTTP handler against a temp database.
func setupServer(t *testing.T, upstreamURL string) (http.Handler, *chat.Service) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.BatchInterval = 1
	cfg.Upstream.BaseURL = upstreamURL

	cache := filter.NewCache(filter.LoaderFunc(func(_ context.Context) ([]filter.Rule, error) {
		return db.ListActiveRules(database)
	}), time.Duration(cfg.FilterTTLSeconds)*time.Second)
	flt := filter.New(cache, cfg.FilterOn())

	svc := chat.NewService(chat.NewStore(database), cfg, flt, upstream.NewClient(cfg.Upstream))
	return NewServer(svc, cfg, "test").Handler, svc
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleStartJSON(t *testing.T) {
	up := fakeUpstream(t, "你好，", "世界")
	handler, _ := setupServer(t, up.URL)

	rec := postJSON(t, handler, "/chat/start", map[string]string{"message": "打个招呼"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ConversationID string `json:"conversation_id"`
		Reply          string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ConversationID == "" {
		t.Errorf("conversation_id is empty")
	}
	if resp.Reply != "你好，世界" {
		t.Errorf("reply = %q, want %q", resp.Reply, "你好，世界")
	}
}

func TestHandleStartSSE(t *testing.T) {
	up := fakeUpstream(t, "### 标", "题\n正文")
	handler, _ := setupServer(t, up.URL)

	req := httptest.NewRequest(http.MethodPost, "/chat/start",
		strings.NewReader(`{"message":"开始"}`))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"meta":{"conversation_id":`) {
		t.Errorf("body missing meta frame: %s", body)
	}
	if !strings.Contains(body, `"replace":true`) {
		t.Errorf("body missing replace text frame: %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body does not end with DONE frame: %s", body)
	}
}

func TestHandleStartInvalidBody(t *testing.T) {
	handler, _ := setupServer(t, "http://127.0.0.1:0")

	req := httptest.NewRequest(http.MethodPost, "/chat/start", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSendMissingConversationBeforeStreamCommit(t *testing.T) {
	handler, _ := setupServer(t, "http://127.0.0.1:0")

	req := httptest.NewRequest(http.MethodPost, "/chat/send?stream=1",
		strings.NewReader(`{"conversation_id":"missing","message":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (lookup before stream commit)", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json error", ct)
	}
}

func TestHandleHistory(t *testing.T) {
	up := fakeUpstream(t, "回复")
	handler, _ := setupServer(t, up.URL)

	rec := postJSON(t, handler, "/chat/start", map[string]string{"message": "问题"})
	var started struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal start response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/history?conversation_id="+started.ConversationID, nil)
	hrec := httptest.NewRecorder()
	handler.ServeHTTP(hrec, req)

	if hrec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", hrec.Code, hrec.Body.String())
	}
	var page struct {
		Total int `json:"total"`
		Items []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"items"`
	}
	if err := json.Unmarshal(hrec.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}
}

func TestHandleHistoryRequiresConversationID(t *testing.T) {
	handler, _ := setupServer(t, "http://127.0.0.1:0")

	req := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRenameAndDelete(t *testing.T) {
	handler, svc := setupServer(t, "http://127.0.0.1:0")

	conv, err := svc.Store().CreateConversation("原标题", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rec := postJSON(t, handler, "/conversations/rename", map[string]string{
		"conversation_id": conv.ID,
		"title":           "新标题",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d, want 204; body = %s", rec.Code, rec.Body.String())
	}

	got, err := svc.Store().Conversation(conv.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.Title != "新标题" {
		t.Errorf("Title = %q after rename, want %q", got.Title, "新标题")
	}

	req := httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID, nil)
	drec := httptest.NewRecorder()
	handler.ServeHTTP(drec, req)
	if drec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", drec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID, nil)
	drec = httptest.NewRecorder()
	handler.ServeHTTP(drec, req)
	if drec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", drec.Code)
	}
}

func TestHandleRenameRejectsBlankTitle(t *testing.T) {
	handler, _ := setupServer(t, "http://127.0.0.1:0")

	rec := postJSON(t, handler, "/conversations/rename", map[string]string{
		"conversation_id": "whatever",
		"title":           "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleConversationPage(t *testing.T) {
	up := fakeUpstream(t, "**加粗**回复")
	handler, _ := setupServer(t, up.URL)

	rec := postJSON(t, handler, "/chat/start", map[string]string{
		"title":   "渲染测试",
		"message": "问题",
	})
	var started struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal start response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+started.ConversationID, nil)
	prec := httptest.NewRecorder()
	handler.ServeHTTP(prec, req)

	if prec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", prec.Code, prec.Body.String())
	}
	body := prec.Body.String()
	if !strings.Contains(body, "渲染测试") {
		t.Errorf("page missing conversation title")
	}
	if !strings.Contains(body, "<strong>加粗</strong>") {
		t.Errorf("page missing rendered markdown: %s", body)
	}
}

func TestShouldStream(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		query  string
		want   bool
	}{
		{"accept header", "text/event-stream", "", true},
		{"accept header mixed case", "Text/Event-Stream", "", true},
		{"query param 1", "", "stream=1", true},
		{"query param true", "", "stream=true", true},
		{"query param yes", "", "stream=yes", true},
		{"query param false", "", "stream=false", false},
		{"neither", "", "", false},
		{"json accept", "application/json", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/chat/send"
			if tt.query != "" {
				url += "?" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if got := shouldStream(req); got != tt.want {
				t.Errorf("shouldStream() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler, _ := setupServer(t, "http://127.0.0.1:0")

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
