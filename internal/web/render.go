package web

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/okzhou/mdmend/internal/db"
)

//go:embed templates/*.html
var templateFS embed.FS

// ConversationPageData is the template data for the transcript preview.
type ConversationPageData struct {
	Title    string
	Version  string
	Messages []RenderedMessage
}

// RenderedMessage is one transcript entry with its markdown rendered to HTML.
type RenderedMessage struct {
	Role string
	HTML template.HTML
	Time string
}

// Renderer renders the transcript preview page.
type Renderer struct {
	tmpl    *template.Template
	version string
}

// NewRenderer parses the embedded templates.
func NewRenderer(version string) *Renderer {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/conversation.html"))
	return &Renderer{tmpl: tmpl, version: version}
}

// renderConversation writes the transcript preview page.
func (r *Renderer) renderConversation(w http.ResponseWriter, conv *db.Conversation, messages []db.Message) {
	data := ConversationPageData{
		Title:    conv.Title,
		Version:  r.version,
		Messages: make([]RenderedMessage, 0, len(messages)),
	}
	for _, m := range messages {
		data.Messages = append(data.Messages, RenderedMessage{
			Role: m.Role,
			HTML: renderMarkdown(m.Content),
			Time: time.Unix(m.CreatedAt, 0).Format("2006-01-02 15:04"),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := r.tmpl.Execute(w, data); err != nil {
		log.Printf("template execute failed: %v", err)
	}
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		// Fall back to escaped plain text on conversion failure.
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
