package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aigateway/internal/core"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(core.PaidDirect, "ds-key", srv.URL+"/v1", "deepseek-chat", srv.Client())
}

func TestCall_Success(t *testing.T) {
	var body map[string]any
	var auth string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "c1", "object": "chat.completion", "model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Resposta"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 40, "total_tokens": 140}
		}`)
	})

	got, err := p.Call(context.Background(), core.Prompt{
		SystemPrompt:    "sys",
		UserMessage:     "pergunta",
		MaxOutputTokens: 3000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer ds-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if body["model"] != "deepseek-chat" || body["max_tokens"] != float64(3000) {
		t.Errorf("request body = %v", body)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["content"] != "sys" {
		t.Errorf("messages = %v", msgs)
	}
	if got.Content != "Resposta" || got.TokensIn != 100 || got.TokensOut != 40 || *got.TokensUsed != 140 {
		t.Errorf("completion = %+v", got)
	}
}

func TestCall_ForwardsReasoningEffort(t *testing.T) {
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	})

	if _, err := p.Call(context.Background(), core.Prompt{UserMessage: "hi", ReasoningEffort: core.EffortAuto}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["reasoning_effort"] != "auto" {
		t.Errorf("reasoning_effort = %v, want auto", body["reasoning_effort"])
	}

	body = nil
	if _, err := p.Call(context.Background(), core.Prompt{UserMessage: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := body["reasoning_effort"]; ok {
		t.Errorf("reasoning_effort sent without an effort: %v", body)
	}
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   core.ErrorType
		wantStatus int
	}{
		{"api error", http.StatusPaymentRequired, `{"error":{"message":"Insufficient Balance","type":"unknown_error"}}`, core.ErrorTypeProvider, http.StatusPaymentRequired},
		{"server error", http.StatusServiceUnavailable, `{"error":{"message":"busy"}}`, core.ErrorTypeProvider, http.StatusBadGateway},
		{"non-json error", http.StatusInternalServerError, `oops`, core.ErrorTypeProvider, http.StatusBadGateway},
		{"empty choices", http.StatusOK, `{"choices":[]}`, core.ErrorTypeEmptyResponse, http.StatusBadGateway},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":" "},"finish_reason":"length"}]}`, core.ErrorTypeEmptyResponse, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := p.Call(context.Background(), core.Prompt{UserMessage: "hi"})

			var gwErr *core.GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("error = %v, want GatewayError", err)
			}
			if gwErr.Type != tt.wantType {
				t.Errorf("Type = %s, want %s (%v)", gwErr.Type, tt.wantType, err)
			}
			if gwErr.HTTPStatusCode() != tt.wantStatus {
				t.Errorf("status = %d, want %d", gwErr.HTTPStatusCode(), tt.wantStatus)
			}
		})
	}
}

func TestCall_Timeout(t *testing.T) {
	p := newTestProvider(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Call(ctx, core.Prompt{UserMessage: "hi"})
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Type != core.ErrorTypeTransport {
		t.Fatalf("error = %v, want transport error", err)
	}
}

func TestCall_MissingKeyDoesNoIO(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	p := New(core.PaidDirect, "", srv.URL, "", srv.Client())
	_, err := p.Call(context.Background(), core.Prompt{UserMessage: "hi"})

	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Type != core.ErrorTypeConfiguration {
		t.Fatalf("error = %v, want configuration error", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server was called %d times", hits.Load())
	}
	if p.Model() != defaultModel {
		t.Errorf("Model() = %q", p.Model())
	}
}
