// Package upstream consumes the fragment source: an OpenAI-compatible
// streaming chat completions endpoint, plus a scripted source for tests and
// replay.
package upstream

import (
	"context"
	"io"
)

// Message is one chat message in the upstream request window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ScriptSource replays a fixed fragment sequence. It ends with io.EOF, or
// with FailWith's error after the last fragment if one was set.
type ScriptSource struct {
	fragments []string
	pos       int
	err       error
}

// NewScript creates a source that yields the given fragments in order.
func NewScript(fragments ...string) *ScriptSource {
	return &ScriptSource{fragments: fragments}
}

// FailWith makes the source return err instead of io.EOF once the fragments
// are exhausted, simulating an upstream generation failure mid-stream.
func (s *ScriptSource) FailWith(err error) *ScriptSource {
	s.err = err
	return s
}

// Recv returns the next fragment.
func (s *ScriptSource) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.fragments) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}
