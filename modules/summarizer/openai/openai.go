// Package openai implements the summarization callback against any
// OpenAI-compatible /v1/chat/completions endpoint. The model is asked
// for a JSON object; anything else the endpoint returns counts as the
// summarizer being unavailable, and the archivist degrades to its
// heuristic.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

// Compile-time interface guard.
var _ memory.Summarizer = (*Client)(nil)

// systemPrompt pins the response shape so the output parses without a
// structured-output API, which not every compatible endpoint offers.
const systemPrompt = `You compress conversation transcripts for long-term memory.
Respond with a single JSON object and nothing else:
{"summary": "...", "topics": ["..."], "affect": "...", "decisions": ["..."]}
summary: what happened, third person, at most 150 words.
topics: 1-5 short keywords.
affect: one or two words for the emotional register, or "neutral".
decisions: explicit decisions or commitments made, empty list if none.`

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient creates a summarization client. baseURL is the API root
// (e.g. "https://api.openai.com/v1"); apiKey may be empty for local
// endpoints that skip authentication.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// summaryPayload is the JSON shape the system prompt demands.
type summaryPayload struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Affect    string   `json:"affect"`
	Decisions []string `json:"decisions"`
}

// Summarize condenses a run of turns via the chat endpoint. Transport
// failures, non-200 statuses, and unparseable replies all wrap
// ErrSummarizerUnavailable so the caller can fall back.
func (c *Client) Summarize(ctx context.Context, turns []memory.Turn) (memory.SummaryResult, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript(turns)},
		},
	})
	if err != nil {
		return memory.SummaryResult{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return memory.SummaryResult{}, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return memory.SummaryResult{}, fmt.Errorf("%w: %w", memory.ErrSummarizerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return memory.SummaryResult{}, fmt.Errorf("%w: chat API status %d: %s",
			memory.ErrSummarizerUnavailable, resp.StatusCode, string(msg))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return memory.SummaryResult{}, fmt.Errorf("%w: decode response: %w",
			memory.ErrSummarizerUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return memory.SummaryResult{}, fmt.Errorf("%w: response contains no choices",
			memory.ErrSummarizerUnavailable)
	}

	payload, err := parsePayload(out.Choices[0].Message.Content)
	if err != nil {
		return memory.SummaryResult{}, fmt.Errorf("%w: %w", memory.ErrSummarizerUnavailable, err)
	}

	return memory.SummaryResult{
		Summary:   payload.Summary,
		Topics:    payload.Topics,
		Affect:    payload.Affect,
		Decisions: payload.Decisions,
	}, nil
}

// transcript renders the turn block as the user message.
func transcript(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// parsePayload decodes the model's reply, tolerating a markdown code
// fence around the JSON since smaller models add one despite the prompt.
func parsePayload(content string) (summaryPayload, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return summaryPayload{}, fmt.Errorf("parse summary reply: %w", err)
	}
	if payload.Summary == "" {
		return summaryPayload{}, fmt.Errorf("summary reply is empty")
	}
	return payload, nil
}
