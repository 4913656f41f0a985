// Package messages serves conversation threads and the chat relay.
package messages

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/model"
	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/relay"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/thread"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "messages",
		Order: 300,
		Group: registryroute.Main,
		Loader: func(r *gin.Engine, deps *registryroute.Deps) error {
			MountRoutes(r, deps.Threads, deps.Relay, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts message, conversation and chat routes.
func MountRoutes(r *gin.Engine, threads *thread.Model, rl *relay.Relay, auth gin.HandlerFunc) {
	g := r.Group("", auth)

	g.POST("/messages", func(c *gin.Context) {
		appendMessage(c, threads)
	})
	g.GET("/messages/:conversationId", func(c *gin.Context) {
		readThread(c, threads)
	})
	g.PUT("/messages", func(c *gin.Context) {
		editMessage(c, threads)
	})
	g.DELETE("/messages/:messageId", func(c *gin.Context) {
		deleteMessage(c, threads)
	})
	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, threads)
	})
	g.POST("/messages/chat", func(c *gin.Context) {
		converse(c, rl)
	})
	g.POST("/messages/regenerate", func(c *gin.Context) {
		regenerate(c, rl)
	})
}

func appendMessage(c *gin.Context, threads *thread.Model) {
	var req struct {
		ConversationID  string  `json:"conversationId"`
		ParentMessageID *string `json:"parentMessageId"`
		Text            string  `json:"text"`
		Sender          string  `json:"sender"`
		IsCreatedByUser bool    `json:"isCreatedByUser"`
		Model           *string `json:"model"`
		Error           bool    `json:"error"`
		Unfinished      bool    `json:"unfinished"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	msg, err := threads.Append(c.Request.Context(), thread.AppendInput{
		ConversationID:  req.ConversationID,
		ParentMessageID: req.ParentMessageID,
		Text:            req.Text,
		Sender:          req.Sender,
		IsCreatedByUser: req.IsCreatedByUser,
		Model:           req.Model,
		Error:           req.Error,
		Unfinished:      req.Unfinished,
		Owner:           security.GetUserID(c),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func readThread(c *gin.Context, threads *thread.Model) {
	msgs, err := threads.ReadThread(c.Request.Context(), c.Param("conversationId"), security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func editMessage(c *gin.Context, threads *thread.Model) {
	var req struct {
		MessageID string `json:"messageId"`
		Text      string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	msg, err := threads.Edit(c.Request.Context(), req.MessageID, req.Text, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func deleteMessage(c *gin.Context, threads *thread.Model) {
	if err := threads.Delete(c.Request.Context(), c.Param("messageId"), security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listConversations(c *gin.Context, threads *thread.Model) {
	page := registrystore.Page{
		Skip:  queryInt(c, "skip", 0),
		Limit: queryInt(c, "limit", thread.DefaultConversationLimit),
	}
	summaries, err := threads.ListConversations(c.Request.Context(), security.GetUserID(c), page)
	if err != nil {
		handleError(c, err)
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func converse(c *gin.Context, rl *relay.Relay) {
	var req struct {
		ConversationID  string  `json:"conversationId"`
		ParentMessageID *string `json:"parentMessageId"`
		Text            string  `json:"text"`
		Sender          string  `json:"sender"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	reply, err := rl.Converse(c.Request.Context(), relay.ConverseInput{
		ConversationID:  req.ConversationID,
		ParentMessageID: req.ParentMessageID,
		Text:            req.Text,
		Model:           req.Sender,
		Owner:           security.GetUserID(c),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func regenerate(c *gin.Context, rl *relay.Relay) {
	var req struct {
		ConversationIDSnake string `json:"conversation_id"`
		ConversationID      string `json:"conversationId"`
		Sender              string `json:"sender"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	conversationID := req.ConversationIDSnake
	if conversationID == "" {
		conversationID = req.ConversationID
	}
	reply, err := rl.Regenerate(c.Request.Context(), conversationID, req.Sender, security.GetUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var upstream *relay.UpstreamError

	switch {
	case errors.As(err, &upstream):
		c.JSON(http.StatusInternalServerError, gin.H{"code": "upstream_failure", "error": upstream.Error()})
	case errors.Is(err, relay.ErrNoHistory):
		c.JSON(http.StatusBadRequest, gin.H{"code": "no_history", "error": err.Error()})
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
		log.Error("Message request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
