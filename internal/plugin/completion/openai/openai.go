package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the API answers without any choice.
var ErrEmptyResponse = errors.New("completion returned no choices")

func init() {
	registrycompletion.Register(registrycompletion.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycompletion.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.CompletionAPIKey == "" {
		return nil, fmt.Errorf("openai completion: KEYVALUE_SERVICE_COMPLETION_API_KEY is required")
	}
	return New(cfg), nil
}

// endpoint is one OpenAI-compatible API the provider can route to.
type endpoint struct {
	client    *openai.Client
	maxTokens int
}

// Provider sends chat completions to the primary endpoint, or to the
// alternate endpoint for models matching the configured substring.
type Provider struct {
	cfg         *config.Config
	primary     endpoint
	alternate   *endpoint
	temperature float32
}

// New builds a provider from cfg.
func New(cfg *config.Config) *Provider {
	httpClient := &http.Client{}
	if cfg.CompletionTimeout > 0 {
		httpClient.Timeout = cfg.CompletionTimeout
	}
	p := &Provider{
		cfg:         cfg,
		primary:     newEndpoint(cfg.CompletionBaseURL, cfg.CompletionAPIKey, cfg.CompletionMaxTokens, httpClient),
		temperature: float32(cfg.CompletionTemperature),
	}
	if strings.TrimSpace(cfg.CompletionAltBaseURL) != "" {
		key := cfg.CompletionAltAPIKey
		if key == "" {
			key = cfg.CompletionAPIKey
		}
		alt := newEndpoint(cfg.CompletionAltBaseURL, key, cfg.CompletionAltMaxTokens, httpClient)
		p.alternate = &alt
	}
	return p
}

func newEndpoint(baseURL, apiKey string, maxTokens int, httpClient *http.Client) endpoint {
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	oc.HTTPClient = httpClient
	return endpoint{client: openai.NewClientWithConfig(oc), maxTokens: maxTokens}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) route(model string) endpoint {
	if p.alternate != nil && p.cfg.AltRoute(model) {
		return *p.alternate
	}
	return p.primary
}

func (p *Provider) Complete(ctx context.Context, req registrycompletion.Request) (*registrycompletion.Response, error) {
	ep := p.route(req.Model)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleAssistant
		if t.Role == model.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: p.temperature,
	}
	if ep.maxTokens > 0 {
		chatReq.MaxTokens = ep.maxTokens
	}

	start := time.Now()
	resp, err := ep.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s) failed after %s: %w", req.Model, time.Since(start).Round(time.Millisecond), err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &registrycompletion.Response{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

var _ registrycompletion.Provider = (*Provider)(nil)
