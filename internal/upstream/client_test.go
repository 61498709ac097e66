package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okzhou/mdmend/internal/config"
)

// sseBody builds an SSE response body from data lines.
func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: " + l + "\n\n")
	}
	return b.String()
}

func TestClientStream(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"content":"你好"}}]}`,
		`{"choices":[{"delta":{"content":""}}]}`,
		`{"choices":[{"delta":{"content":"世界"}}]}`,
		"[DONE]",
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer token", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"})

	src, err := client.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer src.Close()

	var fragments []string
	for {
		frag, err := src.Recv(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		fragments = append(fragments, frag)
	}

	want := []string{"你好", "世界"}
	if len(fragments) != len(want) {
		t.Fatalf("received %d fragments %v, want %v", len(fragments), fragments, want)
	}
	for i := range want {
		if fragments[i] != want[i] {
			t.Errorf("fragments[%d] = %q, want %q", i, fragments[i], want[i])
		}
	}
}

func TestClientStreamNonJSONPassthrough(t *testing.T) {
	body := sseBody("纯文本行", "[DONE]")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: srv.URL})
	src, err := client.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer src.Close()

	frag, err := src.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if frag != "纯文本行" {
		t.Errorf("Recv() = %q, want the raw line passed through", frag)
	}
}

func TestClientStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: srv.URL})
	if _, err := client.Stream(context.Background(), nil); err == nil {
		t.Errorf("Stream() succeeded with status 502, want error")
	}
}

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"完整回复"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: srv.URL})
	got, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "完整回复" {
		t.Errorf("Complete() = %q, want %q", got, "完整回复")
	}
}

func TestStreamSourceCloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sseBody("[DONE]"))
	}))
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: srv.URL})
	src, err := client.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if err := src.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := src.Recv(context.Background()); err != io.EOF {
		t.Errorf("Recv() after Close error = %v, want io.EOF", err)
	}
}
