package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/modules/summarizer/openai"
)

func someTurns() []memory.Turn {
	return []memory.Turn{
		{Role: memory.RoleUser, Text: "let's plan the move", Timestamp: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), Seq: 1},
		{Role: memory.RoleAgent, Text: "booking the van for saturday", Timestamp: time.Date(2026, 4, 1, 9, 0, 5, 0, time.UTC), Seq: 2},
	}
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, "user: let's plan the move") {
			t.Errorf("transcript missing turn: %q", req.Messages[1].Content)
		}

		chatReply(t, w, `{"summary":"planned a house move","topics":["moving"],"affect":"excited","decisions":["book van saturday"]}`)
	}))
	defer srv.Close()

	c := openai.NewClient(srv.URL+"/v1", "sk-test", "test-model")
	got, err := c.Summarize(context.Background(), someTurns())
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.Summary != "planned a house move" {
		t.Errorf("Summary = %q", got.Summary)
	}
	if len(got.Topics) != 1 || got.Topics[0] != "moving" {
		t.Errorf("Topics = %v", got.Topics)
	}
	if got.Affect != "excited" {
		t.Errorf("Affect = %q", got.Affect)
	}
	if len(got.Decisions) != 1 {
		t.Errorf("Decisions = %v", got.Decisions)
	}
}

func TestSummarize_FencedReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n{\"summary\":\"a chat\",\"topics\":[],\"affect\":\"neutral\",\"decisions\":[]}\n```")
	}))
	defer srv.Close()

	c := openai.NewClient(srv.URL+"/v1", "", "test-model")
	got, err := c.Summarize(context.Background(), someTurns())
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.Summary != "a chat" {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestSummarize_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := openai.NewClient(srv.URL+"/v1", "sk-test", "test-model")
	if _, err := c.Summarize(context.Background(), someTurns()); !errors.Is(err, memory.ErrSummarizerUnavailable) {
		t.Fatalf("error = %v, want ErrSummarizerUnavailable", err)
	}
}

func TestSummarize_GarbageReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "Sure! Here is your summary: the chat was nice.")
	}))
	defer srv.Close()

	c := openai.NewClient(srv.URL+"/v1", "", "test-model")
	if _, err := c.Summarize(context.Background(), someTurns()); !errors.Is(err, memory.ErrSummarizerUnavailable) {
		t.Fatalf("error = %v, want ErrSummarizerUnavailable", err)
	}
}

func TestSummarize_ConnectionRefused(t *testing.T) {
	t.Parallel()

	c := openai.NewClient("http://127.0.0.1:1/v1", "", "test-model")
	if _, err := c.Summarize(context.Background(), someTurns()); !errors.Is(err, memory.ErrSummarizerUnavailable) {
		t.Fatalf("error = %v, want ErrSummarizerUnavailable", err)
	}
}
