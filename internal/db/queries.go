package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/okzhou/mdmend/internal/errors"
	"github.com/okzhou/mdmend/internal/filter"
)

// Conversation is a stored chat conversation.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Pinned    string `json:"pinned,omitempty"` // composed system prompt pinned at start
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Message is a stored chat message.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.Error{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertConversation stores a new conversation.
func InsertConversation(database *sql.DB, c *Conversation) error {
	query := `
		INSERT INTO conversations (id, title, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := database.Exec(query, c.ID, c.Title, c.Pinned, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func GetConversation(database *sql.DB, id string) (*Conversation, error) {
	query := `
		SELECT id, title, pinned, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	c := &Conversation{}
	err := database.QueryRow(query, id).Scan(&c.ID, &c.Title, &c.Pinned, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// ListConversations returns conversations ordered by most recently updated.
func ListConversations(database *sql.DB, limit, offset int) ([]Conversation, error) {
	query := `
		SELECT id, title, pinned, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := database.Query(query, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// RenameConversation updates a conversation title.
func RenameConversation(database *sql.DB, id, title string) error {
	result, err := database.Exec(
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, time.Now().Unix(), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
func DeleteConversation(database *sql.DB, id string) error {
	result, err := database.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	// Cascade may not fire if foreign keys are off; delete explicitly.
	if _, err := database.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// TouchConversation bumps a conversation's updated_at timestamp.
func TouchConversation(database *sql.DB, id string) error {
	_, err := database.Exec(
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().Unix(), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// InsertMessage appends a message to a conversation.
func InsertMessage(database *sql.DB, m *Message) error {
	query := `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := database.Exec(query, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	if id, err := result.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func ListMessages(database *sql.DB, conversationID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := database.Query(query, conversationID, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// CountMessages returns the number of messages in a conversation.
func CountMessages(database *sql.DB, conversationID string) (int, error) {
	var count int
	err := database.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?",
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// LatestMessages returns the most recent n messages in insertion order.
// Used to build the upstream message window for a follow-up turn.
func LatestMessages(database *sql.DB, conversationID string, n int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := database.Query(query, conversationID, n)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// ListActiveRules returns enabled filter rules ordered by priority descending,
// then pattern length descending so longer patterns claim a span first.
func ListActiveRules(database *sql.DB) ([]filter.Rule, error) {
	query := `
		SELECT pattern, replacement, is_regex, priority
		FROM filter_rules
		WHERE status = 1
		ORDER BY priority DESC, LENGTH(pattern) DESC, id ASC
	`
	rows, err := database.Query(query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var rules []filter.Rule
	for rows.Next() {
		var r filter.Rule
		var isRegex int
		if err := rows.Scan(&r.Pattern, &r.Replacement, &isRegex, &r.Priority); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.IsRegex = isRegex != 0
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rules, nil
}

// StoredRule is a filter rule row including admin fields.
type StoredRule struct {
	ID          int64
	Pattern     string
	Replacement string
	IsRegex     bool
	Priority    int
	Status      int
	CreatedAt   int64
}

// ListRules returns all filter rules for admin listing, active or not.
func ListRules(database *sql.DB) ([]StoredRule, error) {
	query := `
		SELECT id, pattern, replacement, is_regex, priority, status, created_at
		FROM filter_rules
		ORDER BY priority DESC, id ASC
	`
	rows, err := database.Query(query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var rules []StoredRule
	for rows.Next() {
		var r StoredRule
		var isRegex int
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Replacement, &isRegex, &r.Priority, &r.Status, &r.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.IsRegex = isRegex != 0
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rules, nil
}

// InsertRule stores a new filter rule.
func InsertRule(database *sql.DB, r *StoredRule) error {
	isRegex := 0
	if r.IsRegex {
		isRegex = 1
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	result, err := database.Exec(
		"INSERT INTO filter_rules (pattern, replacement, is_regex, priority, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.Pattern, r.Replacement, isRegex, r.Priority, r.Status, r.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	if id, err := result.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// SetRuleStatus enables (1) or disables (0) a rule.
func SetRuleStatus(database *sql.DB, id int64, status int) error {
	result, err := database.Exec("UPDATE filter_rules SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound("rule")
	}
	return nil
}
