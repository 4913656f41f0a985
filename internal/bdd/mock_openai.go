package bdd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockOpenAI is a controllable OpenAI-compatible chat completion endpoint.
type MockOpenAI struct {
	Server *httptest.Server

	mu          sync.Mutex
	reply       string
	failStatus  int
	lastRequest []byte
	calls       int
}

// NewMockOpenAI starts a server answering POST /chat/completions with the configured reply.
func NewMockOpenAI(t *testing.T) *MockOpenAI {
	t.Helper()
	m := &MockOpenAI{reply: "ok"}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model string `json:"model"`
		}
		_ = json.Unmarshal(body, &req)

		m.mu.Lock()
		m.lastRequest = body
		m.calls++
		reply, failStatus := m.reply, m.failStatus
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failStatus != 0 {
			w.WriteHeader(failStatus)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(m.Server.Close)
	return m
}

// Reset restores the default reply and clears recorded calls.
func (m *MockOpenAI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = "ok"
	m.failStatus = 0
	m.lastRequest = nil
	m.calls = 0
}

// SetReply sets the assistant text returned by subsequent calls.
func (m *MockOpenAI) SetReply(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = text
	m.failStatus = 0
}

// Fail makes subsequent calls answer with status.
func (m *MockOpenAI) Fail(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// LastRequest returns the raw body of the most recent call.
func (m *MockOpenAI) LastRequest() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Calls returns how many completions were requested.
func (m *MockOpenAI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
