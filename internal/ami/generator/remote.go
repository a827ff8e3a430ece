package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/responder"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 20 * time.Second
	defaultMaxTokens    = 400
	defaultHistoryTurns = 8
	maxResponseBytes    = 1 << 20
)

// RemoteConfig configures an OpenAI-compatible chat completions backend.
type RemoteConfig struct {
	APIKey string
	// BaseURL defaults to the OpenAI API. Any compatible endpoint works.
	BaseURL string
	Model   string
	// Timeout bounds one generation, including the HTTP round trip.
	Timeout   time.Duration
	MaxTokens int
	// HistoryTurns is the number of earlier messages sent for context.
	HistoryTurns int
}

// Remote asks a chat model for the reply text. Mood and effects still come
// from the keyword responder applied to the user's text, so a remote reply
// to "tôi mệt" also offers the breathing exercise.
type Remote struct {
	cfg        RemoteConfig
	client     *http.Client
	classifier *responder.Responder
	style      string
	limiter    *RateLimiter
}

// NewRemote builds a remote generator. limiter may be nil to disable
// per-session limiting.
func NewRemote(cfg RemoteConfig, classifier *responder.Responder, style string, limiter *RateLimiter) *Remote {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	} else if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	return &Remote{
		cfg:        cfg,
		client:     &http.Client{},
		classifier: classifier,
		style:      style,
		limiter:    limiter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// BuildPrompt embeds the user's words in the style directive.
func BuildPrompt(style, text string) string {
	var b strings.Builder
	if style = strings.TrimSpace(style); style != "" {
		b.WriteString(style)
		b.WriteString("\n\n")
	}
	b.WriteString("Người dùng nói: \"")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\"\n\nHãy trả lời với tư cách Ami.")
	return b.String()
}

func (r *Remote) Generate(ctx context.Context, req Request) (*responder.Reply, error) {
	if r.limiter != nil && !r.limiter.Allow(req.SessionID) {
		return nil, ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	content, err := r.complete(ctx, r.messages(req))
	if err != nil {
		return nil, err
	}
	text := Normalize(content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}

	reply := r.classifier.Generate(req.Text)
	reply.Text = text
	return &reply, nil
}

func (r *Remote) messages(req Request) []chatMessage {
	history := req.History
	if len(history) > r.cfg.HistoryTurns {
		history = history[len(history)-r.cfg.HistoryTurns:]
	}
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Origin == conversation.OriginCompanion {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Text})
	}
	return append(msgs, chatMessage{Role: "user", Content: BuildPrompt(r.style, req.Text)})
}

func (r *Remote) complete(ctx context.Context, msgs []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{Model: r.cfg.Model, Messages: msgs, MaxTokens: r.cfg.MaxTokens})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrGenerationFailed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrGenerationFailed, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: upstream returned 429", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: upstream returned HTTP %d", ErrGenerationFailed, resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrGenerationFailed, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: upstream error (%s): %s", ErrGenerationFailed, out.Error.Type, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrGenerationFailed)
	}
	return out.Choices[0].Message.Content, nil
}
