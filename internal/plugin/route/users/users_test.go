package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/plugin/route/users"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/testutil/teststore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, registrystore.Store, context.Context) {
	t.Helper()
	store, ctx := teststore.Open(t, nil)
	for _, u := range []model.User{
		{Username: "root", Type: model.UserTypeAdmin},
		{Username: "bob", Type: model.UserTypeStandard},
	} {
		hash, err := security.HashPassword("pw", 4)
		require.NoError(t, err)
		u.HashedPassword = hash
		u.CreatedAt = time.Now().UTC()
		_, err = store.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	authz, err := security.NewAuthorizer(ctx, "")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) {
		user, err := store.GetUser(c.Request.Context(), c.GetHeader("X-Test-User"))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		security.SetIdentity(c, &security.Identity{Username: user.Username, Type: user.Type, IsAdmin: user.IsAdmin()})
		c.Next()
	}
	users.MountRoutes(router, store, authz, 4, auth)
	return router, store, ctx
}

func doJSON(t *testing.T, router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateUser(t *testing.T) {
	router, store, ctx := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/users", "bob", map[string]any{"username": "eve", "password": "pw"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/users", "root", map[string]any{"username": "carol", "password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "pw")
	assert.NotContains(t, w.Body.String(), "hashed_password")
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "carol", created["username"])
	assert.Equal(t, "0", created["type"])

	w = doJSON(t, router, http.MethodPost, "/users", "root", map[string]any{"username": "carol", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/users", "root", map[string]any{"username": "dave", "password": "pw", "type": "7"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := security.NewAuthenticator(store).Authenticate(ctx, "carol", "pw")
	require.NoError(t, err)
}

func TestListUsers(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/users/list", "bob", map[string]any{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/users/list", "root", map[string]any{"skip": 0, "limit": 1})
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0]["username"])
}

func TestMe(t *testing.T) {
	router, store, ctx := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/users/me", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"bob"`)

	w = doJSON(t, router, http.MethodPut, "/users/me", "bob", map[string]any{"password": "new"})
	require.Equal(t, http.StatusOK, w.Code)
	_, err := security.NewAuthenticator(store).Authenticate(ctx, "bob", "new")
	require.NoError(t, err)

	w = doJSON(t, router, http.MethodPut, "/users/me", "bob", map[string]any{"password": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/users/me", "bob", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = store.GetUser(ctx, "bob")
	var nf *registrystore.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
