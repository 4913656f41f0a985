package records_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/keyvalue-service/internal/keyindex"
	"github.com/chirino/keyvalue-service/internal/plugin/route/records"
	"github.com/chirino/keyvalue-service/internal/testutil/teststore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, _ := teststore.Open(t, nil)
	index := keyindex.New(store, keyindex.Options{})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) { c.Set("userID", c.GetHeader("X-Test-User")); c.Next() }
	records.MountRoutes(router, index, auth)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestKeyValueLifecycle(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/key-values", "alice", map[string]any{"key": "a", "value": "1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"key":"a","value":"1"}`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/key-values", "alice", map[string]any{"key": "a", "value": "2"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "duplicate_key", decode[map[string]any](t, w)["code"])

	w = doJSON(t, router, http.MethodGet, "/key-values?key=a", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decode[map[string]any](t, w)["value"])

	w = doJSON(t, router, http.MethodPut, "/key-values", "alice", map[string]any{"key": "a", "value": "3"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", decode[map[string]any](t, w)["value"])

	w = doJSON(t, router, http.MethodPut, "/key-values", "alice", map[string]any{"key": "zzz", "value": "3"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/key-values?key=a", "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/key-values?key=a", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/key-values", "alice", map[string]any{"key": "a"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyValueListing(t *testing.T) {
	router := setupRouter(t)

	for _, body := range []map[string]any{
		{"key": "a", "value": "root"},
		{"key": "a/b", "value": "child", "parentKey": "a"},
		{"key": "c", "value": "other"},
	} {
		w := doJSON(t, router, http.MethodPost, "/key-values", "alice", body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := doJSON(t, router, http.MethodPost, "/key-values/keys", "alice", map[string]any{"prefix": "a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"a"},{"key":"a/b"}]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/key-values/keys", "alice", map[string]any{"prefix": "a", "parentKey": "a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"a/b"}]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/key-values/keys", "alice", map[string]any{"parentKey": ""})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"a"},{"key":"c"}]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/key-values/list", "alice", map[string]any{"skip": 1, "limit": 1})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]map[string]any](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "a/b", list[0]["key"])
	assert.Equal(t, "a", list[0]["parentKey"])

	w = doJSON(t, router, http.MethodPost, "/key-values/list", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 3)

	w = doJSON(t, router, http.MethodPost, "/key-values/list", "alice", map[string]any{"prefix": "z"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/key-values/list", "alice", map[string]any{"prefix": "a.*", "regex": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStrategies(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/strategies", "alice", map[string]any{"key": "s1", "value": "plan", "conversationId": "c1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	assert.Equal(t, "0", created["status"])
	assert.Equal(t, "alice", created["user"])
	assert.NotEmpty(t, created["created_at"])

	w = doJSON(t, router, http.MethodPost, "/strategies", "alice", map[string]any{"key": "s2", "value": "plan"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPut, "/strategies", "alice", map[string]any{"key": "s1", "status": "2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", decode[map[string]any](t, w)["status"])

	w = doJSON(t, router, http.MethodPut, "/strategies", "alice", map[string]any{"key": "s1", "status": "9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/strategies/keys", "alice", map[string]any{"status": "2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"s1","status":"2","conversationId":"c1"}]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/strategies/list", "alice", map[string]any{"parentKey": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStrategyEmptyFiltersSelectAll(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/strategies", "alice", map[string]any{"key": "s1", "value": "plan", "conversationId": "c1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/strategies/list", "alice", map[string]any{"status": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = doJSON(t, router, http.MethodPost, "/strategies/keys", "alice", map[string]any{"conversationId": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"key":"s1","status":"0","conversationId":"c1"}]`, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/strategies/keys", "alice", map[string]any{"status": "", "conversationId": "other"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPrompts(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/prompts", "alice", map[string]any{"key": "p1", "value": "You are helpful"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/prompts", "alice", map[string]any{"key": "p2", "value": "x", "parentKey": "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/prompts", "alice", map[string]any{"key": "", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/prompts/keys", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"p1"}]`, w.Body.String())
}
