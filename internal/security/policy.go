package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/open-policy-agent/opa/rego"
)

// Actions checked against the authorization policy.
const (
	ActionUsersCreate = "users:create"
	ActionUsersList   = "users:list"
)

const defaultAuthzRego = `
package keyvalue.authz

import future.keywords.if
import future.keywords.in

admin_actions := {"users:create", "users:list"}

default allow = false

allow if {
    not input.action in admin_actions
}

# user type "1" is an administrator
allow if {
    input.action in admin_actions
    input.user.type == "1"
}

allow if {
    input.action in admin_actions
    input.user.is_admin
}
`

const authzQuery = "data.keyvalue.authz.allow"

// Authorizer evaluates the Rego authorization policy.
type Authorizer struct {
	mu    sync.RWMutex
	allow *rego.PreparedEvalQuery
	src   string
}

// NewAuthorizer creates an Authorizer. If policyFile is non-empty the policy is
// loaded from it; otherwise the built-in policy is used.
func NewAuthorizer(ctx context.Context, policyFile string) (*Authorizer, error) {
	src := defaultAuthzRego
	if policyFile != "" {
		data, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		src = string(data)
		log.Info("Loaded authorization policy", "file", policyFile)
	}
	a := &Authorizer{}
	if err := a.Replace(ctx, src); err != nil {
		return nil, err
	}
	return a, nil
}

// Replace compiles src and hot-swaps it in. Thread-safe.
func (a *Authorizer) Replace(ctx context.Context, src string) error {
	r := rego.New(
		rego.Query(authzQuery),
		rego.Module("authz.rego", src),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile authorization policy: %w", err)
	}
	a.mu.Lock()
	a.allow = &pq
	a.src = src
	a.mu.Unlock()
	return nil
}

// Source returns the active policy text.
func (a *Authorizer) Source() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.src
}

// Authorize reports whether id may perform action.
func (a *Authorizer) Authorize(ctx context.Context, id *Identity, action string) (bool, error) {
	a.mu.RLock()
	q := *a.allow
	a.mu.RUnlock()

	user := map[string]interface{}{}
	if id != nil {
		user["username"] = id.Username
		user["type"] = string(id.Type)
		user["is_admin"] = id.IsAdmin
	}
	input := map[string]interface{}{
		"action": action,
		"user":   user,
	}
	results, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("authz eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allow, _ := results[0].Expressions[0].Value.(bool)
	return allow, nil
}

// Check is Authorize reporting a denial as a *store.ForbiddenError.
func (a *Authorizer) Check(ctx context.Context, id *Identity, action string) error {
	ok, err := a.Authorize(ctx, id, action)
	if err != nil {
		return err
	}
	if !ok {
		return &registrystore.ForbiddenError{Action: action}
	}
	return nil
}

// RequireAction returns gin middleware rejecting callers the policy denies action to.
func RequireAction(a *Authorizer, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := a.Check(c.Request.Context(), GetIdentity(c), action)
		var forbidden *registrystore.ForbiddenError
		switch {
		case errors.As(err, &forbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": forbidden.Error()})
		case err != nil:
			log.Error("Authorization failed", "action", action, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "authorization failed"})
		default:
			c.Next()
		}
	}
}
