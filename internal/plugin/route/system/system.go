// Package system serves the liveness, readiness and metrics endpoints.
package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
)

var started atomic.Bool

// MarkReady flips /ready to 200 once the server finished starting.
func MarkReady() {
	started.Store(true)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Group: registryroute.Management,
		Loader: func(r *gin.Engine, deps *registryroute.Deps) error {
			var check func(ctx context.Context) error
			if deps != nil {
				check = deps.Ready
			}
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			r.GET("/ready", func(c *gin.Context) { ready(c, check) })
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}

func ready(c *gin.Context, check func(ctx context.Context) error) {
	if !started.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if check != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
