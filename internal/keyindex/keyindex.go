// Package keyindex layers a forest of keys over the record store: records
// may name a parentKey, and listings filter by key prefix and by parent.
package keyindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
)

// Query selects records of one kind. Prefix and Parent are combined with AND.
type Query struct {
	Prefix *string
	// Regex treats Prefix as an anchored regular expression.
	Regex          bool
	Parent         registrystore.ParentFilter
	Status         *string
	ConversationID *string
	Skip           int
	Limit          int
}

// Options configures an Index.
type Options struct {
	AllowRegex   bool
	DefaultLimit int
}

// Index is the record-facing API used by the HTTP layer.
type Index struct {
	store registrystore.RecordStore
	opts  Options
	now   func() time.Time
}

// New creates an Index over store.
func New(store registrystore.RecordStore, opts Options) *Index {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = registrystore.DefaultPageLimit
	}
	return &Index{store: store, opts: opts, now: time.Now}
}

func (x *Index) timestamp() *time.Time {
	t := x.now().UTC().Truncate(time.Millisecond)
	return &t
}

func checkKind(kind model.RecordKind) error {
	if !kind.Valid() {
		return &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown record kind %q", kind)}
	}
	return nil
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &registrystore.ValidationError{Field: model.FieldKey, Message: "key is required"}
	}
	return nil
}

// Create stores a new record on behalf of caller. Strategies start in the
// not-started state and are owned by caller; prompts and strategies are
// stamped with creation time. An empty parentKey creates a root.
func (x *Index) Create(ctx context.Context, kind model.RecordKind, rec model.Record, caller string) (*model.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkKey(rec.Key); err != nil {
		return nil, err
	}
	if rec.ParentKey != nil && *rec.ParentKey == "" {
		rec.ParentKey = nil
	}
	if rec.ParentKey != nil && !kind.HasParent() {
		return nil, &registrystore.ValidationError{Field: model.FieldParentKey, Message: fmt.Sprintf("%s records have no parent", kind)}
	}

	out := model.Record{Key: rec.Key, Value: rec.Value, ParentKey: rec.ParentKey}
	if kind == model.KindStrategy {
		status := model.StrategyNotStarted
		out.Status = &status
		if caller != "" {
			out.User = &caller
		}
		out.ConversationID = rec.ConversationID
	}
	if kind.HasTimestamps() {
		now := x.timestamp()
		out.CreatedAt = now
		out.UpdatedAt = now
	}
	return x.store.CreateRecord(ctx, kind, out)
}

// Get returns the record stored under key.
func (x *Index) Get(ctx context.Context, kind model.RecordKind, key string) (*model.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return x.store.GetRecord(ctx, kind, key)
}

// Update merges the supplied fields into the record stored under key.
func (x *Index) Update(ctx context.Context, kind model.RecordKind, key string, patch model.RecordPatch) (*model.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if patch.ParentKey != nil && !kind.HasParent() {
		return nil, &registrystore.ValidationError{Field: model.FieldParentKey, Message: fmt.Sprintf("%s records have no parent", kind)}
	}
	if kind != model.KindStrategy && (patch.Status != nil || patch.ConversationID != nil) {
		return nil, &registrystore.ValidationError{Field: model.FieldStatus, Message: fmt.Sprintf("%s records have no status", kind)}
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, &registrystore.ValidationError{Field: model.FieldStatus, Message: fmt.Sprintf("invalid status %q", *patch.Status)}
	}
	return x.store.UpdateRecord(ctx, kind, key, patch)
}

// Delete removes the record stored under key.
func (x *Index) Delete(ctx context.Context, kind model.RecordKind, key string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	return x.store.DeleteRecord(ctx, kind, key)
}

// List returns the full records matching q in storage order.
func (x *Index) List(ctx context.Context, kind model.RecordKind, q Query) ([]model.Record, error) {
	filter, page, err := x.compile(kind, q)
	if err != nil {
		return nil, err
	}
	return x.store.ScanRecords(ctx, kind, filter, page)
}

// Keys returns the identifying fields of the records matching q.
func (x *Index) Keys(ctx context.Context, kind model.RecordKind, q Query) ([]map[string]any, error) {
	filter, page, err := x.compile(kind, q)
	if err != nil {
		return nil, err
	}
	return x.store.ProjectRecords(ctx, kind, kind.KeyFields(), filter, page)
}

func (x *Index) compile(kind model.RecordKind, q Query) (registrystore.Filter, registrystore.Page, error) {
	var filter registrystore.Filter
	if err := checkKind(kind); err != nil {
		return filter, registrystore.Page{}, err
	}
	page, err := registrystore.Page{Skip: q.Skip, Limit: q.Limit}.Normalize(x.opts.DefaultLimit)
	if err != nil {
		return filter, page, err
	}

	if q.Regex && !x.opts.AllowRegex {
		return filter, page, &registrystore.ValidationError{Field: "regex", Message: "regular expression prefixes are disabled"}
	}
	if q.Prefix != nil && *q.Prefix != "" {
		filter.Prefix = &registrystore.PrefixMatch{Value: *q.Prefix, Regex: q.Regex}
	}
	filter.Parent = q.Parent

	// empty status and conversationId filters select everything, like an empty prefix
	status, conversationID := nonEmpty(q.Status), nonEmpty(q.ConversationID)
	if status != nil || conversationID != nil {
		filter.Equals = map[string]string{}
		if status != nil {
			if !model.StrategyStatus(*status).Valid() {
				return filter, page, &registrystore.ValidationError{Field: model.FieldStatus, Message: fmt.Sprintf("invalid status %q", *status)}
			}
			filter.Equals[model.FieldStatus] = *status
		}
		if conversationID != nil {
			filter.Equals[model.FieldConversationID] = *conversationID
		}
	}
	if err := filter.Validate(kind); err != nil {
		return filter, page, err
	}
	return filter, page, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
