package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowHeaders = "Authorization, Content-Type"
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
)

type corsPolicy struct {
	any     bool
	origins map[string]struct{}
}

// parseCORSOrigins reads a comma-separated origin list. An empty list or a
// lone "*" allows every origin.
func parseCORSOrigins(csv string) corsPolicy {
	p := corsPolicy{origins: map[string]struct{}{}}
	for _, origin := range strings.Split(csv, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			p.origins[origin] = struct{}{}
		}
	}
	if _, star := p.origins["*"]; len(p.origins) == 0 || (star && len(p.origins) == 1) {
		p.any = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func corsMiddleware(originsCSV string) gin.HandlerFunc {
	policy := parseCORSOrigins(originsCSV)
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if policy.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
