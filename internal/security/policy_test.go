package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	a, err := NewAuthorizer(ctx, "")
	require.NoError(t, err)

	admin := &Identity{Username: "root", Type: model.UserTypeAdmin, IsAdmin: true}
	user := &Identity{Username: "bob", Type: model.UserTypeStandard}
	csvAdmin := &Identity{Username: "ops", Type: model.UserTypeStandard, IsAdmin: true}

	cases := []struct {
		name   string
		id     *Identity
		action string
		allow  bool
	}{
		{"admin creates users", admin, ActionUsersCreate, true},
		{"admin lists users", admin, ActionUsersList, true},
		{"user cannot create users", user, ActionUsersCreate, false},
		{"user cannot list users", user, ActionUsersList, false},
		{"configured admin lists users", csvAdmin, ActionUsersList, true},
		{"user reads records", user, "records:read", true},
		{"anonymous cannot list users", nil, ActionUsersList, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := a.Authorize(ctx, tc.id, tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.allow, ok)
		})
	}
}

func TestPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authz.rego")
	require.NoError(t, os.WriteFile(path, []byte("package keyvalue.authz\n\ndefault allow = false\n"), 0o600))

	a, err := NewAuthorizer(context.Background(), path)
	require.NoError(t, err)
	ok, err := a.Authorize(context.Background(), &Identity{Username: "root", IsAdmin: true}, "records:read")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, a.Source(), "default allow = false")
}

func TestPolicyCompileError(t *testing.T) {
	a, err := NewAuthorizer(context.Background(), "")
	require.NoError(t, err)
	require.Error(t, a.Replace(context.Background(), "package keyvalue.authz\nallow {"))
	assert.Equal(t, defaultAuthzRego, a.Source())

	_, err = NewAuthorizer(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	require.Error(t, err)
}

func TestRequireAction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := NewAuthorizer(context.Background(), "")
	require.NoError(t, err)

	newRouter := func(id *Identity) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			SetIdentity(c, id)
			c.Next()
		})
		r.GET("/users", RequireAction(a, ActionUsersList), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}

	w := httptest.NewRecorder()
	newRouter(&Identity{Username: "bob", Type: model.UserTypeStandard}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	newRouter(&Identity{Username: "root", Type: model.UserTypeAdmin, IsAdmin: true}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckReturnsForbiddenError(t *testing.T) {
	a, err := NewAuthorizer(context.Background(), "")
	require.NoError(t, err)

	err = a.Check(context.Background(), &Identity{Username: "bob", Type: model.UserTypeStandard}, ActionUsersList)
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, ActionUsersList, forbidden.Action)
	assert.Equal(t, "forbidden: users:list", err.Error())

	require.NoError(t, a.Check(context.Background(), &Identity{Username: "root", IsAdmin: true}, ActionUsersList))
}
