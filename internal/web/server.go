// Package web exposes the chat pipeline over HTTP: SSE streaming endpoints,
// conversation history, and a small HTML preview of repaired transcripts.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okzhou/mdmend/internal/chat"
	"github.com/okzhou/mdmend/internal/config"
)

// NewServer creates and configures the HTTP server.
func NewServer(svc *chat.Service, cfg *config.Config, version string) *http.Server {
	h := &Handlers{
		svc:      svc,
		cfg:      cfg,
		renderer: NewRenderer(version),
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("POST /chat/start", h.HandleStart)
	mux.HandleFunc("POST /chat/send", h.HandleSend)
	mux.HandleFunc("GET /chat/history", h.HandleHistory)
	mux.HandleFunc("GET /conversations", h.HandleConversations)
	mux.HandleFunc("GET /conversations/{id}", h.HandleConversationPage)
	mux.HandleFunc("POST /conversations/rename", h.HandleRename)
	mux.HandleFunc("DELETE /conversations/{id}", h.HandleDelete)

	// Wrap with security headers
	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("mdmend running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
