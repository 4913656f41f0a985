package model

import (
	"time"
)

// RecordKind identifies one of the uniquely keyed record collections.
type RecordKind string

const (
	KindKeyValue RecordKind = "key_value"
	KindPrompt   RecordKind = "prompt"
	KindStrategy RecordKind = "strategy"
)

// RecordKinds lists every record kind in a stable order.
var RecordKinds = []RecordKind{KindKeyValue, KindPrompt, KindStrategy}

// Collection returns the collection (or table) name backing the kind.
func (k RecordKind) Collection() string {
	switch k {
	case KindKeyValue:
		return "key_values"
	case KindPrompt:
		return "prompt"
	case KindStrategy:
		return "strategy"
	default:
		return ""
	}
}

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	return k.Collection() != ""
}

// HasParent reports whether records of this kind carry a parentKey.
func (k RecordKind) HasParent() bool {
	return k == KindKeyValue
}

// HasTimestamps reports whether records of this kind carry created_at/updated_at.
func (k RecordKind) HasTimestamps() bool {
	return k == KindPrompt || k == KindStrategy
}

// KeyFields returns the fields returned by the lightweight key listing.
func (k RecordKind) KeyFields() []string {
	if k == KindStrategy {
		return []string{FieldKey, FieldStatus, FieldConversationID}
	}
	return []string{FieldKey}
}

// EqualityFields returns the fields that may be used as exact-match list filters.
func (k RecordKind) EqualityFields() []string {
	if k == KindStrategy {
		return []string{FieldStatus, FieldConversationID}
	}
	return nil
}

// Record field names, shared by projections, filters and wire formats.
const (
	FieldKey            = "key"
	FieldValue          = "value"
	FieldParentKey      = "parentKey"
	FieldStatus         = "status"
	FieldUser           = "user"
	FieldConversationID = "conversationId"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
)

// StrategyStatus is the lifecycle state of a strategy.
type StrategyStatus string

const (
	StrategyNotStarted StrategyStatus = "0"
	StrategyStarted    StrategyStatus = "1"
	StrategyCompleted  StrategyStatus = "2"
	StrategyErrored    StrategyStatus = "3"
)

// Valid reports whether s is one of the known strategy states.
func (s StrategyStatus) Valid() bool {
	switch s {
	case StrategyNotStarted, StrategyStarted, StrategyCompleted, StrategyErrored:
		return true
	}
	return false
}

// Record is a uniquely keyed document. Which optional fields are populated
// depends on its kind: key-values use ParentKey, prompts carry timestamps,
// strategies carry status, owner, conversation and timestamps.
type Record struct {
	Key            string          `json:"key"`
	Value          string          `json:"value"`
	ParentKey      *string         `json:"parentKey,omitempty"`
	Status         *StrategyStatus `json:"status,omitempty"`
	User           *string         `json:"user,omitempty"`
	ConversationID *string         `json:"conversationId,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
}

// RecordPatch carries a partial update. Nil fields are left untouched.
type RecordPatch struct {
	Value          *string
	ParentKey      *string
	Status         *StrategyStatus
	ConversationID *string
}

// Empty reports whether the patch changes nothing.
func (p RecordPatch) Empty() bool {
	return p.Value == nil && p.ParentKey == nil && p.Status == nil && p.ConversationID == nil
}

// Message is one entry of a conversation thread.
type Message struct {
	MessageID       string    `json:"messageId"`
	ConversationID  string    `json:"conversationId"`
	ParentMessageID *string   `json:"parentMessageId,omitempty"`
	Sender          string    `json:"sender"`
	Text            string    `json:"text"`
	IsCreatedByUser bool      `json:"isCreatedByUser"`
	IsEdited        bool      `json:"isEdited"`
	Model           *string   `json:"model,omitempty"`
	Error           bool      `json:"error"`
	Unfinished      bool      `json:"unfinished"`
	TokenCount      int       `json:"tokenCount"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	User            string    `json:"user,omitempty"`
}

// SenderSystem is the sender recorded on relay failure messages.
const SenderSystem = "System"

// ConversationSummary describes one conversation of an owner.
type ConversationSummary struct {
	ConversationID string  `json:"conversationId"`
	LastMessage    Message `json:"lastMessage"`
	MessageCount   int     `json:"messageCount"`
}

// UserType distinguishes administrators from standard users.
type UserType string

const (
	UserTypeStandard UserType = "0"
	UserTypeAdmin    UserType = "1"
)

// User is an account able to authenticate against the service.
type User struct {
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	Type           UserType  `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsAdmin reports whether the user has the administrative role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Type == UserTypeAdmin
}

// Chat roles sent to the completion provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is a role-tagged message sent to the completion provider.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
