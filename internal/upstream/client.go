package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okzhou/mdmend/internal/config"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        config.UpstreamConfig
	httpClient *http.Client
}

// NewClient creates a client from upstream config.
func NewClient(cfg config.UpstreamConfig) *Client {
	return &Client{
		cfg: cfg,
		// No overall timeout: streamed responses stay open for the whole
		// generation. Per-request deadlines come from the caller's context.
		httpClient: &http.Client{},
	}
}

// chatRequest is the wire request body.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// chatResponse is the non-streaming wire response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chunkResponse is one streamed SSE chunk.
type chunkResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete performs a blocking, non-streaming completion.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode upstream response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("upstream returned no choices")
	}
	return body.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion and returns a source of content
// fragments. The caller must drain the source (or cancel the context) so the
// response body is closed.
func (c *Client) Stream(ctx context.Context, messages []Message) (*StreamSource, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &StreamSource{body: resp.Body, scanner: scanner}, nil
}

// post sends the chat completions request.
func (c *Client) post(ctx context.Context, messages []Message, streaming bool) (*http.Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      streaming,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// StreamSource reads content fragments out of an SSE response body.
// It implements the pipeline's Source contract: io.EOF at end of sequence.
type StreamSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Recv returns the next non-empty content fragment.
func (s *StreamSource) Recv(ctx context.Context) (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			s.Close()
			return "", err
		}
		if !s.scanner.Scan() {
			s.Close()
			if err := s.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.Close()
			return "", io.EOF
		}

		var chunk chunkResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Occasional non-JSON lines from the upstream are passed through.
			return data, nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

// Close releases the underlying response body. Safe to call more than once.
func (s *StreamSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
