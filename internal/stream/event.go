// Package stream frames normalizer output as an ordered event sequence for a
// consumer and enforces the delivery invariant: the last content-bearing
// event on a stream equals the persisted record, on every termination path.
package stream

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates stream events.
type EventType string

const (
	EventMeta  EventType = "meta"
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one frame of the delivery protocol. A stream is the sequence
// Meta → Text{0..n} → Done|Error. Every Text carries the full current
// rendering, not a delta: the repair engine may retroactively alter
// earlier-rendered text, so consumers replace their display wholesale.
type Event struct {
	Type EventType

	// ConversationID is set on Meta events.
	ConversationID string

	// Content is the full current rendering, set on Text events.
	Content string

	// Message is set on Error events.
	Message string
}

// Meta opens a stream.
func Meta(conversationID string) Event {
	return Event{Type: EventMeta, ConversationID: conversationID}
}

// Text carries the full current rendering.
func Text(content string) Event {
	return Event{Type: EventText, Content: content}
}

// Done terminates a successful stream.
func Done() Event {
	return Event{Type: EventDone}
}

// Errorf terminates a failed stream. The producer still finalizes and
// persists after emitting it.
func Errorf(format string, args ...any) Event {
	return Event{Type: EventError, Message: fmt.Sprintf(format, args...)}
}

// metaPayload is the wire form of a Meta event.
type metaPayload struct {
	Meta struct {
		ConversationID string `json:"conversation_id"`
	} `json:"meta"`
}

// textPayload is the wire form of a Text event. Replace is always true: the
// consumer must swap its displayed content wholesale.
type textPayload struct {
	Text    string `json:"text"`
	Replace bool   `json:"replace"`
}

// Encode renders the event as one SSE frame ("data: ...\n\n").
func (e Event) Encode() []byte {
	switch e.Type {
	case EventMeta:
		var p metaPayload
		p.Meta.ConversationID = e.ConversationID
		return pack(mustJSON(p))
	case EventText:
		return pack(mustJSON(textPayload{Text: e.Content, Replace: true}))
	case EventDone:
		return pack("[DONE]")
	case EventError:
		return pack("[ERROR]" + e.Message)
	}
	return nil
}

// pack wraps a payload in SSE line framing.
func pack(data string) []byte {
	return []byte("data: " + data + "\n\n")
}

// mustJSON marshals v; the payload types cannot fail to marshal.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Sink receives the event sequence. Send errors indicate a gone consumer;
// producers treat delivery as best-effort and keep their persistence
// obligations regardless.
type Sink interface {
	Send(Event) error
}

// Discard is a Sink that drops every event. Used for non-streaming callers
// that only want the final text.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Send(Event) error { return nil }
