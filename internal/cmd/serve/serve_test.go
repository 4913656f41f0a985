package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_AllowsSmallBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(16))
	router.POST("/key-values", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/key-values", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func TestMaxBodySizeMiddleware_RejectsLargeBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/key-values", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/key-values", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = ":memory:"
	cfg.CompletionType = "disabled"
	cfg.JWTSecret = "test-secret"
	cfg.BcryptCost = 4
	cfg.Listener.Port = 0
	cfg.MetricsLabels = "service=keyvalue-service"

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
}

func call(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestStartServer_EndToEnd(t *testing.T) {
	srv, base := startTestServer(t)

	hashed, err := security.HashPassword("secret", 4)
	require.NoError(t, err)
	_, err = srv.Store.CreateUser(context.Background(), model.User{
		Username:       "alice",
		HashedPassword: hashed,
		Type:           model.UserTypeStandard,
	})
	require.NoError(t, err)

	status, _ := call(t, http.MethodGet, base+"/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, http.MethodGet, base+"/key-values?key=a", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, http.MethodPost, base+"/auth/token", "", map[string]string{
		"username": "alice", "password": "secret",
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	status, _ = call(t, http.MethodPost, base+"/key-values", token, map[string]string{"key": "a", "value": "1"})
	require.Equal(t, http.StatusCreated, status)

	status, body = call(t, http.MethodPost, base+"/key-values", token, map[string]string{"key": "a", "value": "2"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "duplicate_key", body["code"])

	status, body = call(t, http.MethodGet, base+"/key-values?key=a", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body["value"])

	// Standard users may not create accounts under the default policy.
	status, _ = call(t, http.MethodPost, base+"/users", token, map[string]string{
		"username": "bob", "password": "pw",
	})
	assert.Equal(t, http.StatusForbidden, status)
}
