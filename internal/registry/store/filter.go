package store

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/chirino/keyvalue-service/internal/model"
)

// ParentMode selects how a listing treats the parentKey relationship.
type ParentMode int

const (
	// ParentUnfiltered matches records regardless of their parent.
	ParentUnfiltered ParentMode = iota
	// ParentRootsOnly matches records without a parentKey.
	ParentRootsOnly
	// ParentChildrenOf matches records whose parentKey equals ParentFilter.Key.
	ParentChildrenOf
)

// ParentFilter is the tagged parent predicate of a listing.
type ParentFilter struct {
	Mode ParentMode
	Key  string
}

// Unfiltered returns a filter that ignores the parent relationship.
func Unfiltered() ParentFilter { return ParentFilter{Mode: ParentUnfiltered} }

// RootsOnly returns a filter matching records with no parent.
func RootsOnly() ParentFilter { return ParentFilter{Mode: ParentRootsOnly} }

// ChildrenOf returns a filter matching the direct children of key.
func ChildrenOf(key string) ParentFilter { return ParentFilter{Mode: ParentChildrenOf, Key: key} }

// ParseParent maps the wire form of the parent filter onto the variant:
// absent is unfiltered, "" selects roots, any other value selects children.
func ParseParent(raw *string) ParentFilter {
	switch {
	case raw == nil:
		return Unfiltered()
	case *raw == "":
		return RootsOnly()
	default:
		return ChildrenOf(*raw)
	}
}

// Matches evaluates the filter against a record's parentKey.
func (p ParentFilter) Matches(parentKey *string) bool {
	switch p.Mode {
	case ParentRootsOnly:
		return parentKey == nil
	case ParentChildrenOf:
		return parentKey != nil && *parentKey == p.Key
	default:
		return true
	}
}

func (p ParentFilter) String() string {
	switch p.Mode {
	case ParentRootsOnly:
		return "roots"
	case ParentChildrenOf:
		return fmt.Sprintf("children(%s)", p.Key)
	default:
		return "all"
	}
}

// PrefixMatch restricts keys to those starting with Value. Value is matched
// literally unless Regex is set, in which case it is an anchored pattern.
type PrefixMatch struct {
	Value string
	Regex bool
}

// Pattern returns the anchored regular expression equivalent to the match.
func (m PrefixMatch) Pattern() string {
	if m.Regex {
		return "^(?:" + m.Value + ")"
	}
	return "^" + regexp.QuoteMeta(m.Value)
}

// LikePattern returns a SQL LIKE pattern for a literal prefix, escaped with '\'.
func (m PrefixMatch) LikePattern() string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(m.Value) + "%"
}

// Matches evaluates the prefix against key.
func (m PrefixMatch) Matches(key string) (bool, error) {
	if !m.Regex {
		return strings.HasPrefix(key, m.Value), nil
	}
	re, err := regexp.Compile(m.Pattern())
	if err != nil {
		return false, err
	}
	return re.MatchString(key), nil
}

// Filter is the conjunction of predicates applied by ScanRecords and ProjectRecords.
type Filter struct {
	Prefix *PrefixMatch
	Parent ParentFilter
	Equals map[string]string
}

// Validate checks that every predicate applies to kind.
func (f Filter) Validate(kind model.RecordKind) error {
	if !kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown record kind %q", kind)}
	}
	if f.Prefix != nil && f.Prefix.Regex {
		if _, err := regexp.Compile(f.Prefix.Pattern()); err != nil {
			return &ValidationError{Field: "prefix", Message: fmt.Sprintf("invalid pattern: %v", err)}
		}
	}
	if f.Parent.Mode != ParentUnfiltered && !kind.HasParent() {
		return &ValidationError{Field: "parentKey", Message: fmt.Sprintf("%s records have no parent", kind)}
	}
	allowed := kind.EqualityFields()
	for field := range f.Equals {
		if !slices.Contains(allowed, field) {
			return &ValidationError{Field: field, Message: fmt.Sprintf("not filterable on %s records", kind)}
		}
	}
	return nil
}

// ValidateFields checks that every projected field exists on kind.
func ValidateFields(kind model.RecordKind, fields []string) error {
	if len(fields) == 0 {
		return &ValidationError{Field: "fields", Message: "at least one field is required"}
	}
	allowed := RecordFields(kind)
	for _, f := range fields {
		if !slices.Contains(allowed, f) {
			return &ValidationError{Field: f, Message: fmt.Sprintf("unknown field on %s records", kind)}
		}
	}
	return nil
}

// RecordFields lists the stored fields of a kind.
func RecordFields(kind model.RecordKind) []string {
	fields := []string{model.FieldKey, model.FieldValue}
	if kind.HasParent() {
		fields = append(fields, model.FieldParentKey)
	}
	if kind == model.KindStrategy {
		fields = append(fields, model.FieldStatus, model.FieldUser, model.FieldConversationID)
	}
	if kind.HasTimestamps() {
		fields = append(fields, model.FieldCreatedAt, model.FieldUpdatedAt)
	}
	return fields
}

// Project copies the requested fields of rec into a map. Unset optional
// fields are omitted.
func Project(rec model.Record, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case model.FieldKey:
			out[f] = rec.Key
		case model.FieldValue:
			out[f] = rec.Value
		case model.FieldParentKey:
			if rec.ParentKey != nil {
				out[f] = *rec.ParentKey
			}
		case model.FieldStatus:
			if rec.Status != nil {
				out[f] = string(*rec.Status)
			}
		case model.FieldUser:
			if rec.User != nil {
				out[f] = *rec.User
			}
		case model.FieldConversationID:
			if rec.ConversationID != nil {
				out[f] = *rec.ConversationID
			}
		case model.FieldCreatedAt:
			if rec.CreatedAt != nil {
				out[f] = *rec.CreatedAt
			}
		case model.FieldUpdatedAt:
			if rec.UpdatedAt != nil {
				out[f] = *rec.UpdatedAt
			}
		}
	}
	return out
}
