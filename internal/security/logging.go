package security

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request. Server errors log at
// error level and client errors at warn. Requests to skipPaths are not
// logged.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if user := GetUserID(c); user != "" {
			kv = append(kv, "user", user)
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", kv...)
		case status >= 400:
			log.Warn("HTTP request", kv...)
		default:
			log.Info("HTTP request", kv...)
		}
	}
}

// AdminAuditMiddleware logs who called a route under one of prefixes and
// whether the call was made with admin rights.
func AdminAuditMiddleware(prefixes ...string) gin.HandlerFunc {
	audited := func(path string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
	return func(c *gin.Context) {
		c.Next()
		if !audited(c.Request.URL.Path) {
			return
		}
		log.Info("Admin audit",
			"caller", GetUserID(c),
			"admin", IsAdmin(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}
