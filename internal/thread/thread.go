// Package thread implements per-user conversation threads: appending,
// reading, editing and deleting messages, and summarising conversations.
package thread

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/model"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/google/uuid"
)

// DefaultConversationLimit is the page size of ListConversations.
const DefaultConversationLimit = 20

// AppendInput describes a message to add to a conversation.
type AppendInput struct {
	// ConversationID selects the conversation; empty starts a new one.
	ConversationID  string
	ParentMessageID *string
	Text            string
	Sender          string
	IsCreatedByUser bool
	Model           *string
	Error           bool
	Unfinished      bool
	Owner           string
}

// generationSlots bounds the invalidation counters kept per Model. Threads
// sharing a slot only cost each other a skipped cache fill.
const generationSlots = 256

// Model owns the message collection of every user.
type Model struct {
	store  registrystore.MessageStore
	cache  registrycache.ThreadCache
	tokens TokenCounter
	ttl    time.Duration
	now    func() time.Time

	// fillMu orders cache fills against invalidations: a fill only lands if
	// no invalidation of its slot happened since the store was read.
	fillMu      sync.Mutex
	generations [generationSlots]uint64
}

// Option customises a Model.
type Option func(*Model)

// WithCache serves ReadThread from c.
func WithCache(c registrycache.ThreadCache, ttl time.Duration) Option {
	return func(m *Model) {
		m.cache = c
		m.ttl = ttl
	}
}

// WithTokenCounter replaces the tiktoken counter.
func WithTokenCounter(tc TokenCounter) Option {
	return func(m *Model) { m.tokens = tc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// New creates a Model over store.
func New(store registrystore.MessageStore, opts ...Option) *Model {
	m := &Model{
		store:  store,
		tokens: NewTiktokenCounter(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Model) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func modelName(msg model.Message) string {
	if msg.Model != nil {
		return *msg.Model
	}
	return msg.Sender
}

// Append stores a new message. A fresh message id is always minted, and a
// conversation id is minted when in.ConversationID is empty.
func (m *Model) Append(ctx context.Context, in AppendInput) (*model.Message, error) {
	if in.Owner == "" {
		return nil, &registrystore.ValidationError{Field: "user", Message: "owner is required"}
	}
	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	parent := in.ParentMessageID
	if parent != nil && *parent == "" {
		parent = nil
	}
	now := m.timestamp()
	msg := model.Message{
		MessageID:       uuid.NewString(),
		ConversationID:  conversationID,
		ParentMessageID: parent,
		Sender:          in.Sender,
		Text:            in.Text,
		IsCreatedByUser: in.IsCreatedByUser,
		Model:           in.Model,
		Error:           in.Error,
		Unfinished:      in.Unfinished,
		CreatedAt:       now,
		UpdatedAt:       now,
		User:            in.Owner,
	}
	msg.TokenCount = m.tokens.Count(modelName(msg), msg.Text)

	saved, err := m.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, in.Owner, conversationID)
	return saved, nil
}

// ReadThread returns the owner's messages of a conversation, oldest first.
func (m *Model) ReadThread(ctx context.Context, conversationID string, owner string) ([]model.Message, error) {
	if m.cache != nil && m.cache.Available() {
		cached, err := m.cache.Get(ctx, owner, conversationID)
		if err != nil {
			log.Warn("Thread cache read failed", "conversationId", conversationID, "err", err)
		} else if cached != nil {
			security.RecordCacheLookup(true)
			return cached.Messages, nil
		}
		security.RecordCacheLookup(false)
	}

	slot := generationSlot(owner, conversationID)
	seen := m.generation(slot)
	msgs, err := m.store.FindThread(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil && m.cache.Available() && len(msgs) > 0 {
		m.fill(ctx, owner, conversationID, slot, seen, msgs)
	}
	return msgs, nil
}

func generationSlot(owner, conversationID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(registrycache.ThreadKey(owner, conversationID)))
	return int(h.Sum32() % generationSlots)
}

func (m *Model) generation(slot int) uint64 {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	return m.generations[slot]
}

// fill caches msgs unless the thread was invalidated after it was read.
func (m *Model) fill(ctx context.Context, owner, conversationID string, slot int, seen uint64, msgs []model.Message) {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	if m.generations[slot] != seen {
		log.Debug("Skipping stale thread cache fill", "conversationId", conversationID)
		return
	}
	if err := m.cache.Set(ctx, owner, conversationID, registrycache.CachedThread{Messages: msgs}, m.ttl); err != nil {
		log.Warn("Thread cache write failed", "conversationId", conversationID, "err", err)
	}
}

// Edit replaces a message's text and marks it edited.
func (m *Model) Edit(ctx context.Context, messageID string, text string, owner string) (*model.Message, error) {
	current, err := m.store.GetMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}
	count := m.tokens.Count(modelName(*current), text)
	updated, err := m.store.UpdateMessageText(ctx, owner, messageID, text, count, m.timestamp())
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, owner, updated.ConversationID)
	return updated, nil
}

// Delete removes one of the owner's messages.
func (m *Model) Delete(ctx context.Context, messageID string, owner string) error {
	current, err := m.store.GetMessage(ctx, owner, messageID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteMessage(ctx, owner, messageID); err != nil {
		return err
	}
	m.invalidate(ctx, owner, current.ConversationID)
	return nil
}

// ListConversations returns the owner's conversations, most recently active first.
func (m *Model) ListConversations(ctx context.Context, owner string, page registrystore.Page) ([]model.ConversationSummary, error) {
	page, err := page.Normalize(DefaultConversationLimit)
	if err != nil {
		return nil, err
	}
	return m.store.ListConversations(ctx, owner, page)
}

func (m *Model) invalidate(ctx context.Context, owner, conversationID string) {
	if m.cache == nil || !m.cache.Available() {
		return
	}
	slot := generationSlot(owner, conversationID)
	m.fillMu.Lock()
	m.generations[slot]++
	m.fillMu.Unlock()
	if err := m.cache.Remove(ctx, owner, conversationID); err != nil {
		log.Warn("Thread cache invalidation failed", "conversationId", conversationID, "err", err)
	}
}
