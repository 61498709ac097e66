// Package chat owns conversations: persistence of history, and the service
// that assembles the per-stream repair/filter/delivery pipeline.
package chat

import (
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/okzhou/mdmend/internal/db"
	"github.com/okzhou/mdmend/internal/errors"
)

// Store persists conversations and messages. It is the pipeline's
// persistence sink.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an initialized database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// HistoryPage is one page of a conversation's messages.
type HistoryPage struct {
	ConversationID string       `json:"conversation_id"`
	Page           int          `json:"page"`
	Size           int          `json:"size"`
	Total          int          `json:"total"`
	Items          []db.Message `json:"items"`
}

// CreateConversation stores a new conversation with a generated ULID.
func (s *Store) CreateConversation(title, pinned string) (*db.Conversation, error) {
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	c := &db.Conversation{
		ID:        id,
		Title:     title,
		Pinned:    pinned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertConversation(s.db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Conversation retrieves a conversation by ID.
func (s *Store) Conversation(id string) (*db.Conversation, error) {
	return db.GetConversation(s.db, id)
}

// Conversations lists conversations, most recently updated first.
func (s *Store) Conversations(limit, offset int) ([]db.Conversation, error) {
	return db.ListConversations(s.db, limit, offset)
}

// Rename updates a conversation title.
func (s *Store) Rename(id, title string) error {
	return db.RenameConversation(s.db, id, title)
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(id string) error {
	return db.DeleteConversation(s.db, id)
}

// SaveMessage appends one message and bumps the conversation timestamp.
func (s *Store) SaveMessage(conversationID, role, content string) error {
	m := &db.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().Unix(),
	}
	if err := db.InsertMessage(s.db, m); err != nil {
		return err
	}
	return db.TouchConversation(s.db, conversationID)
}

// History returns one page of messages in insertion order.
func (s *Store) History(conversationID string, page, size int) (*HistoryPage, error) {
	if _, err := db.GetConversation(s.db, conversationID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	total, err := db.CountMessages(s.db, conversationID)
	if err != nil {
		return nil, err
	}
	items, err := db.ListMessages(s.db, conversationID, size, (page-1)*size)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		ConversationID: conversationID,
		Page:           page,
		Size:           size,
		Total:          total,
		Items:          items,
	}, nil
}

// RecentMessages returns the last n messages in insertion order, for
// building the upstream context window.
func (s *Store) RecentMessages(conversationID string, n int) ([]db.Message, error) {
	return db.LatestMessages(s.db, conversationID, n)
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
