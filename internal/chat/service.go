package chat

import (
	"context"
	"strings"

	"github.com/okzhou/mdmend/internal/config"
	"github.com/okzhou/mdmend/internal/errors"
	"github.com/okzhou/mdmend/internal/filter"
	"github.com/okzhou/mdmend/internal/markdown"
	"github.com/okzhou/mdmend/internal/stream"
	"github.com/okzhou/mdmend/internal/upstream"
)

// defaultTitle names conversations created without one.
const defaultTitle = "untitled conversation"

// recentWindow is how many stored messages are replayed to the upstream on a
// follow-up turn.
const recentWindow = 10

// Completer produces fragment streams for a message window. *upstream.Client
// implements it; tests substitute scripted sources.
type Completer interface {
	Stream(ctx context.Context, messages []upstream.Message) (*upstream.StreamSource, error)
}

// Service assembles the per-stream pipeline: upstream source → incremental
// normalizer → content filter → event sink, with finalize-and-persist as a
// guaranteed cleanup phase.
type Service struct {
	store  *Store
	cfg    *config.Config
	filter *filter.Filter
	client Completer
}

// NewService creates the chat service.
func NewService(store *Store, cfg *config.Config, flt *filter.Filter, client Completer) *Service {
	return &Service{store: store, cfg: cfg, filter: flt, client: client}
}

// Store exposes the underlying conversation store.
func (s *Service) Store() *Store {
	return s.store
}

// StartInput holds parameters for starting a conversation.
type StartInput struct {
	Title   string
	System  string // pinned system prompt, may be empty
	Message string // opening user message, required
}

// Start creates a conversation and streams the first reply into sink.
// It returns the conversation ID and the final filtered text, which has been
// persisted and equals the last delivered Text event.
func (s *Service) Start(ctx context.Context, in StartInput, sink stream.Sink) (string, string, error) {
	if strings.TrimSpace(in.Message) == "" {
		return "", "", errors.NewInvalidRequest("message is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle
	}

	conv, err := s.store.CreateConversation(title, in.System)
	if err != nil {
		return "", "", err
	}

	var window []upstream.Message
	if in.System != "" {
		window = append(window, upstream.Message{Role: "system", Content: in.System})
	}
	window = append(window, upstream.Message{Role: "user", Content: in.Message})

	final, err := s.run(ctx, conv.ID, in.Message, window, sink)
	return conv.ID, final, err
}

// Send streams a follow-up reply in an existing conversation into sink and
// returns the final filtered text.
func (s *Service) Send(ctx context.Context, conversationID, message string, sink stream.Sink) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.NewInvalidRequest("message is required")
	}

	conv, err := s.store.Conversation(conversationID)
	if err != nil {
		return "", err
	}

	var window []upstream.Message
	if conv.Pinned != "" {
		window = append(window, upstream.Message{Role: "system", Content: conv.Pinned})
	}
	recent, err := s.store.RecentMessages(conv.ID, recentWindow)
	if err != nil {
		return "", err
	}
	for _, m := range recent {
		window = append(window, upstream.Message{Role: m.Role, Content: m.Content})
	}
	window = append(window, upstream.Message{Role: "user", Content: message})

	return s.run(ctx, conv.ID, message, window, sink)
}

// History returns one page of a conversation's messages.
func (s *Service) History(conversationID string, page, size int) (*HistoryPage, error) {
	if size < 1 {
		size = s.cfg.HistoryLimit
	}
	return s.store.History(conversationID, page, size)
}

// run executes one stream. The user message and the final assistant text are
// persisted together in the pipeline's cleanup phase, so history is written
// exactly once per turn even on upstream failure or cancellation.
func (s *Service) run(ctx context.Context, conversationID, userMessage string, window []upstream.Message, sink stream.Sink) (string, error) {
	var source stream.Source
	src, err := s.client.Stream(ctx, window)
	if err != nil {
		// Connection-level failure: run the pipeline over an immediately
		// failing source so the event sequence and persistence rules hold.
		source = upstream.NewScript().FailWith(err)
	} else {
		source = src
		defer src.Close()
	}

	pipeline := &stream.Pipeline{
		ConversationID: conversationID,
		Source:         source,
		Normalizer:     markdown.NewIncrementalNormalizer(s.cfg.BatchInterval, markdown.ParseBreakMode(s.cfg.BreakMode)),
		Filter:         s.filter,
		Sink:           sink,
		Persist: func(ctx context.Context, content string) error {
			if err := s.store.SaveMessage(conversationID, "user", userMessage); err != nil {
				return err
			}
			return s.store.SaveMessage(conversationID, "assistant", content)
		},
	}

	final, err := pipeline.Run(ctx)
	if err != nil {
		if _, ok := err.(*errors.Error); !ok {
			err = errors.NewUpstream(err)
		}
		return final, err
	}
	return final, nil
}
