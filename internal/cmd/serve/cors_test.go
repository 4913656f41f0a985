package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCORSOrigins(t *testing.T) {
	assert.True(t, parseCORSOrigins("").any)
	assert.True(t, parseCORSOrigins(" * ").any)

	p := parseCORSOrigins("https://a.example, https://b.example,")
	assert.False(t, p.any)
	assert.True(t, p.allows("https://b.example"))
	assert.False(t, p.allows("https://c.example"))
	assert.False(t, p.allows(""))
}

func corsRouter(origins string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(origins))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCorsMiddleware(t *testing.T) {
	router := corsRouter("https://example.com")

	tests := []struct {
		name       string
		method     string
		origin     string
		wantCode   int
		wantOrigin string
	}{
		{"allowed origin", http.MethodGet, "https://example.com", http.StatusOK, "https://example.com"},
		{"other origin", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://example.com", http.StatusNoContent, "https://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
