package completion

import (
	"context"
	"fmt"

	"github.com/chirino/keyvalue-service/internal/model"
)

// Request is a single chat completion call.
type Request struct {
	Model string
	Turns []model.ChatTurn
}

// Response is the provider's reply to a Request.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider produces chat completions from an OpenAI-compatible API.
type Provider interface {
	// Complete blocks until the provider replies, ctx is done, or the
	// provider's own timeout elapses.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name returns the plugin name.
	Name() string
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents a completion provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a completion provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered completion provider plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named completion provider plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown completion provider %q; valid: %v", name, Names())
}
