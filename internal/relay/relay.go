// Package relay forwards conversation threads to the completion provider and
// records the reply, or the failure, as a new message of the thread.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/model"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/thread"
)

// DefaultModel is used by Regenerate when the caller names no model.
const DefaultModel = "gpt-4o-mini"

// ErrNoHistory is returned by Regenerate for a conversation without messages.
var ErrNoHistory = errors.New("no conversation history found")

// UpstreamError reports a failed provider call. Its message is the
// provider's error string.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Options configures a Relay.
type Options struct {
	// Timeout bounds each provider call; zero means no bound beyond ctx.
	Timeout      time.Duration
	DefaultModel string
}

// Relay drives chat completions for conversation threads.
type Relay struct {
	threads  *thread.Model
	provider registrycompletion.Provider
	opts     Options
}

// New creates a Relay.
func New(threads *thread.Model, provider registrycompletion.Provider, opts Options) *Relay {
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	return &Relay{threads: threads, provider: provider, opts: opts}
}

// ConverseInput is a user turn sent to the model.
type ConverseInput struct {
	ConversationID  string
	ParentMessageID *string
	Text            string
	Model           string
	Owner           string
}

// Converse stores the user's message, sends the whole thread to the model and
// stores its reply. On provider failure an error message is stored instead
// and an *UpstreamError is returned.
func (r *Relay) Converse(ctx context.Context, in ConverseInput) (*model.Message, error) {
	if strings.TrimSpace(in.Model) == "" {
		return nil, &registrystore.ValidationError{Field: "sender", Message: "model is required"}
	}
	userMsg, err := r.threads.Append(ctx, thread.AppendInput{
		ConversationID:  in.ConversationID,
		ParentMessageID: in.ParentMessageID,
		Text:            in.Text,
		Sender:          in.Model,
		IsCreatedByUser: true,
		Owner:           in.Owner,
	})
	if err != nil {
		return nil, err
	}

	history, err := r.threads.ReadThread(ctx, userMsg.ConversationID, in.Owner)
	if err != nil {
		return nil, err
	}
	turns := Turns(history)
	if len(turns) == 0 {
		// the thread was changed concurrently; send at least the new message
		turns = []model.ChatTurn{{Role: model.RoleUser, Content: userMsg.Text}}
	}

	parent := userMsg.MessageID
	return r.complete(ctx, userMsg.ConversationID, &parent, in.Model, turns, in.Owner, "")
}

// Regenerate asks the model for a new reply to an existing thread. The reply
// is parented on the last user message.
func (r *Relay) Regenerate(ctx context.Context, conversationID string, modelName string, owner string) (*model.Message, error) {
	if conversationID == "" {
		return nil, &registrystore.ValidationError{Field: "conversation_id", Message: "conversation_id is required"}
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = r.opts.DefaultModel
	}

	history, err := r.threads.ReadThread(ctx, conversationID, owner)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNoHistory
	}
	turns := Turns(history)

	var parent *string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsCreatedByUser {
			id := history[i].MessageID
			parent = &id
			break
		}
	}
	return r.complete(ctx, conversationID, parent, modelName, turns, owner, "Regeneration failed: ")
}

// Turns maps a thread onto chat turns. Messages recording a failure are not
// replayed.
func Turns(history []model.Message) []model.ChatTurn {
	turns := make([]model.ChatTurn, 0, len(history))
	for _, m := range history {
		if m.Error {
			continue
		}
		role := model.RoleAssistant
		if m.IsCreatedByUser {
			role = model.RoleUser
		}
		turns = append(turns, model.ChatTurn{Role: role, Content: m.Text})
	}
	return turns
}

func (r *Relay) complete(ctx context.Context, conversationID string, parent *string, modelName string, turns []model.ChatTurn, owner string, failurePrefix string) (*model.Message, error) {
	callCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.provider.Complete(callCtx, registrycompletion.Request{Model: modelName, Turns: turns})
	if err == nil && resp == nil {
		err = fmt.Errorf("completion provider %s returned no response", r.provider.Name())
	}
	security.ObserveCompletion(modelName, start, err)

	// the outcome is recorded even when the caller went away mid-call
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("Completion failed", "model", modelName, "conversationId", conversationID, "err", err)
		if _, appendErr := r.threads.Append(persistCtx, thread.AppendInput{
			ConversationID:  conversationID,
			ParentMessageID: parent,
			Text:            failurePrefix + err.Error(),
			Sender:          model.SenderSystem,
			Error:           true,
			Owner:           owner,
		}); appendErr != nil {
			log.Error("Failed to record completion failure", "conversationId", conversationID, "err", appendErr)
		}
		return nil, &UpstreamError{Err: err}
	}

	name := modelName
	return r.threads.Append(persistCtx, thread.AppendInput{
		ConversationID:  conversationID,
		ParentMessageID: parent,
		Text:            resp.Text,
		Sender:          modelName,
		Model:           &name,
		Owner:           owner,
	})
}
