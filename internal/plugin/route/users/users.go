// Package users serves account management.
package users

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/model"
	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "users",
		Order: 110,
		Group: registryroute.Main,
		Loader: func(r *gin.Engine, deps *registryroute.Deps) error {
			MountRoutes(r, deps.Store, deps.Authorizer, deps.Config.BcryptCost, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts the /users routes. Creating and listing users is
// subject to the authorization policy.
func MountRoutes(r *gin.Engine, store registrystore.UserStore, authz *security.Authorizer, bcryptCost int, auth gin.HandlerFunc) {
	g := r.Group("/users", auth)

	g.POST("", security.RequireAction(authz, security.ActionUsersCreate), func(c *gin.Context) {
		createUser(c, store, bcryptCost)
	})
	g.POST("/list", security.RequireAction(authz, security.ActionUsersList), func(c *gin.Context) {
		listUsers(c, store)
	})
	g.GET("/me", func(c *gin.Context) {
		getMe(c, store)
	})
	g.PUT("/me", func(c *gin.Context) {
		changePassword(c, store, bcryptCost)
	})
	g.DELETE("/me", func(c *gin.Context) {
		deleteMe(c, store)
	})
}

func createUser(c *gin.Context, store registrystore.UserStore, bcryptCost int) {
	var req struct {
		Username string         `json:"username"`
		Password string         `json:"password"`
		Type     model.UserType `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		handleError(c, &registrystore.ValidationError{Field: "username", Message: "username and password are required"})
		return
	}
	if req.Type == "" {
		req.Type = model.UserTypeStandard
	}
	if req.Type != model.UserTypeStandard && req.Type != model.UserTypeAdmin {
		handleError(c, &registrystore.ValidationError{Field: "type", Message: "type must be \"0\" or \"1\""})
		return
	}

	hash, err := security.HashPassword(req.Password, bcryptCost)
	if err != nil {
		handleError(c, err)
		return
	}
	user, err := store.CreateUser(c.Request.Context(), model.User{
		Username:       req.Username,
		HashedPassword: hash,
		Type:           req.Type,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func listUsers(c *gin.Context, store registrystore.UserStore) {
	var req struct {
		Skip  int `json:"skip"`
		Limit int `json:"limit"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
	}
	page, err := registrystore.Page{Skip: req.Skip, Limit: req.Limit}.Normalize(registrystore.DefaultPageLimit)
	if err != nil {
		handleError(c, err)
		return
	}
	list, err := store.ListUsers(c.Request.Context(), page)
	if err != nil {
		handleError(c, err)
		return
	}
	if list == nil {
		list = []model.User{}
	}
	c.JSON(http.StatusOK, list)
}

func getMe(c *gin.Context, store registrystore.UserStore) {
	user, err := store.GetUser(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func changePassword(c *gin.Context, store registrystore.UserStore, bcryptCost int) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	if req.Password == "" {
		handleError(c, &registrystore.ValidationError{Field: "password", Message: "password is required"})
		return
	}
	hash, err := security.HashPassword(req.Password, bcryptCost)
	if err != nil {
		handleError(c, err)
		return
	}
	user, err := store.UpdateUserPassword(c.Request.Context(), security.GetUserID(c), hash)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func deleteMe(c *gin.Context, store registrystore.UserStore) {
	if err := store.DeleteUser(c.Request.Context(), security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusBadRequest, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("User request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
