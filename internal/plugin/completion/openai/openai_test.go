package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/plugin/completion/openai"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeAPI records the last request and answers with reply.
func fakeAPI(t *testing.T, reply string, got *chatRequest, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"` + got.Model + `",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"` + reply + `"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsTurns(t *testing.T) {
	var got chatRequest
	srv := fakeAPI(t, "hello back", &got, nil)

	cfg := config.DefaultConfig()
	cfg.CompletionBaseURL = srv.URL
	cfg.CompletionAPIKey = "test"
	p := openai.New(&cfg)

	resp, err := p.Complete(context.Background(), registrycompletion.Request{
		Model: "gpt-4o-mini",
		Turns: []model.ChatTurn{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hey"},
			{Role: model.RoleUser, Content: "how are you"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Text)
	assert.Equal(t, 3, resp.PromptTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.85, got.Temperature, 0.0001)
	assert.Equal(t, 5000, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestCompleteRoutesAlternateModels(t *testing.T) {
	var primaryReq, altReq chatRequest
	var primaryHits, altHits int32
	primary := fakeAPI(t, "primary", &primaryReq, &primaryHits)
	alt := fakeAPI(t, "alternate", &altReq, &altHits)

	cfg := config.DefaultConfig()
	cfg.CompletionBaseURL = primary.URL
	cfg.CompletionAPIKey = "test"
	cfg.CompletionAltBaseURL = alt.URL
	p := openai.New(&cfg)

	resp, err := p.Complete(context.Background(), registrycompletion.Request{
		Model: "Gemini-1.5-pro",
		Turns: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "alternate", resp.Text)
	assert.Equal(t, int32(0), atomic.LoadInt32(&primaryHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&altHits))
	assert.Equal(t, 500000, altReq.MaxTokens)
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.CompletionBaseURL = srv.URL
	cfg.CompletionAPIKey = "test"

	_, err := openai.New(&cfg).Complete(context.Background(), registrycompletion.Request{Model: "gpt-4o"})
	require.ErrorIs(t, err, openai.ErrEmptyResponse)
}

func TestCompleteHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := config.DefaultConfig()
	cfg.CompletionBaseURL = srv.URL
	cfg.CompletionAPIKey = "test"
	cfg.CompletionTimeout = 50 * time.Millisecond

	_, err := openai.New(&cfg).Complete(context.Background(), registrycompletion.Request{Model: "gpt-4o"})
	require.Error(t, err)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	loader, err := registrycompletion.Select("openai")
	require.NoError(t, err)
	_, err = loader(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}
