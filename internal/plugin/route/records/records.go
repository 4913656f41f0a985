// Package records serves the key-value, prompt and strategy collections.
package records

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/keyindex"
	"github.com/chirino/keyvalue-service/internal/model"
	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "records",
		Order: 200,
		Group: registryroute.Main,
		Loader: func(r *gin.Engine, deps *registryroute.Deps) error {
			MountRoutes(r, deps.Index, deps.Auth)
			return nil
		},
	})
}

// Paths maps each record kind to the URL path serving it.
var Paths = map[model.RecordKind]string{
	model.KindKeyValue: "/key-values",
	model.KindPrompt:   "/prompts",
	model.KindStrategy: "/strategies",
}

// MountRoutes mounts the CRUD and listing routes of every record kind.
func MountRoutes(r *gin.Engine, index *keyindex.Index, auth gin.HandlerFunc) {
	for _, kind := range model.RecordKinds {
		kind := kind
		g := r.Group(Paths[kind], auth)
		g.POST("", func(c *gin.Context) { createRecord(c, index, kind) })
		g.GET("", func(c *gin.Context) { getRecord(c, index, kind) })
		g.PUT("", func(c *gin.Context) { updateRecord(c, index, kind) })
		g.DELETE("", func(c *gin.Context) { deleteRecord(c, index, kind) })
		g.POST("/list", func(c *gin.Context) { listRecords(c, index, kind) })
		g.POST("/keys", func(c *gin.Context) { listKeys(c, index, kind) })
	}
}

type createRequest struct {
	Key            string  `json:"key"`
	Value          string  `json:"value"`
	ParentKey      *string `json:"parentKey"`
	ConversationID *string `json:"conversationId"`
}

type updateRequest struct {
	Key            string                `json:"key"`
	Value          *string               `json:"value"`
	ParentKey      *string               `json:"parentKey"`
	Status         *model.StrategyStatus `json:"status"`
	ConversationID *string               `json:"conversationId"`
}

type listRequest struct {
	Prefix         *string `json:"prefix"`
	Regex          bool    `json:"regex"`
	ParentKey      *string `json:"parentKey"`
	Status         *string `json:"status"`
	ConversationID *string `json:"conversationId"`
	Skip           int     `json:"skip"`
	Limit          int     `json:"limit"`
}

func (req listRequest) query() keyindex.Query {
	return keyindex.Query{
		Prefix:         req.Prefix,
		Regex:          req.Regex,
		Parent:         registrystore.ParseParent(req.ParentKey),
		Status:         req.Status,
		ConversationID: req.ConversationID,
		Skip:           req.Skip,
		Limit:          req.Limit,
	}
}

func createRecord(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	rec, err := index.Create(c.Request.Context(), kind, model.Record{
		Key:            req.Key,
		Value:          req.Value,
		ParentKey:      req.ParentKey,
		ConversationID: req.ConversationID,
	}, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func getRecord(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	rec, err := index.Get(c.Request.Context(), kind, c.Query("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func updateRecord(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	rec, err := index.Update(c.Request.Context(), kind, req.Key, model.RecordPatch{
		Value:          req.Value,
		ParentKey:      req.ParentKey,
		Status:         req.Status,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func deleteRecord(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	key := c.Query("key")
	if key == "" && c.Request.ContentLength != 0 {
		var req struct {
			Key string `json:"key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
			return
		}
		key = req.Key
	}
	if err := index.Delete(c.Request.Context(), kind, key); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listRecords(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	var req listRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	recs, err := index.List(c.Request.Context(), kind, req.query())
	if err != nil {
		handleError(c, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func listKeys(c *gin.Context, index *keyindex.Index, kind model.RecordKind) {
	var req listRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	keys, err := index.Keys(c.Request.Context(), kind, req.query())
	if err != nil {
		handleError(c, err)
		return
	}
	if keys == nil {
		keys = []map[string]any{}
	}
	c.JSON(http.StatusOK, keys)
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
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
	case errors.As(err, &conflict) && conflict.IsDuplicateKey():
		c.JSON(http.StatusBadRequest, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Record request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
