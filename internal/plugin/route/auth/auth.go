// Package auth serves the password login that issues bearer tokens.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "auth",
		Order: 100,
		Group: registryroute.Main,
		Loader: func(r *gin.Engine, deps *registryroute.Deps) error {
			MountRoutes(r, deps.Authenticator, deps.Issuer, deps.TokenTTL)
			return nil
		},
	})
}

type tokenRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// MountRoutes mounts POST /auth/token. It is the only unauthenticated API route.
func MountRoutes(r *gin.Engine, authn *security.Authenticator, issuer *security.TokenIssuer, ttl time.Duration) {
	r.POST("/auth/token", func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
		if req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "username and password are required"})
			return
		}

		user, err := authn.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, security.ErrInvalidCredentials) {
				log.Info("Login rejected", "username", req.Username)
				c.Header("WWW-Authenticate", "Bearer")
				c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": err.Error()})
				return
			}
			log.Error("Login failed", "username", req.Username, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		token, err := issuer.Generate(user.Username, ttl)
		if err != nil {
			log.Error("Token signing failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   "bearer",
			"user_type":    user.Type,
		})
	})
}
