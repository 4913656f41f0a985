// Package route collects the HTTP route plugins and mounts them in order.
package route

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/keyindex"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/relay"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/thread"
	"github.com/gin-gonic/gin"
)

// Group selects the server a plugin's routes are mounted on.
type Group int

const (
	// Main is the API server.
	Main Group = iota
	// Management serves health and metrics. Without a dedicated management
	// port it shares the API server.
	Management
)

func (g Group) String() string {
	if g == Management {
		return "management"
	}
	return "main"
}

// Deps are the services route handlers are built from. Management routes
// may be mounted before any of them exist, so they must tolerate nil fields.
type Deps struct {
	Config        *config.Config
	Store         registrystore.Store
	Index         *keyindex.Index
	Threads       *thread.Model
	Relay         *relay.Relay
	Authenticator *security.Authenticator
	Issuer        *security.TokenIssuer
	Authorizer    *security.Authorizer
	// Auth resolves the caller and rejects unauthenticated requests.
	Auth gin.HandlerFunc
	// Ready reports whether the backing services answer.
	Ready func(ctx context.Context) error
	// TokenTTL is the lifetime of issued bearer tokens.
	TokenTTL time.Duration
}

// Loader mounts a plugin's routes.
type Loader func(r *gin.Engine, deps *Deps) error

// Plugin is a named route loader. Lower Order mounts first.
type Plugin struct {
	Name   string
	Order  int
	Group  Group
	Loader Loader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns the registered plugin names of group in mount order.
func Names(group Group) []string {
	var names []string
	for _, p := range ordered(group) {
		names = append(names, p.Name)
	}
	return names
}

// Mount runs every loader of group against r.
func Mount(r *gin.Engine, group Group, deps *Deps) error {
	for _, p := range ordered(group) {
		if err := p.Loader(r, deps); err != nil {
			return fmt.Errorf("%s route plugin %s: %w", group, p.Name, err)
		}
	}
	return nil
}

func ordered(group Group) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Group == group {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
