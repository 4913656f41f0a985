package store

import "fmt"

// ConflictCodeDuplicateKey is the ConflictError code of a create whose
// identifier is already taken.
const ConflictCodeDuplicateKey = "duplicate_key"

// NotFoundError reports a missing resource. Resources owned by another user
// are reported the same way.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ValidationError rejects a request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ConflictError reports a write that collides with existing state. Code is
// a stable machine-readable reason.
type ConflictError struct {
	Code     string
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	if e.Code == ConflictCodeDuplicateKey {
		return fmt.Sprintf("%s %q already exists", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s %q conflicts: %s", e.Resource, e.ID, e.Code)
}

// IsDuplicateKey reports whether e is a duplicate identifier.
func (e *ConflictError) IsDuplicateKey() bool {
	return e != nil && e.Code == ConflictCodeDuplicateKey
}

// DuplicateKey is the ConflictError for an id that already exists.
func DuplicateKey(resource, id string) *ConflictError {
	return &ConflictError{Code: ConflictCodeDuplicateKey, Resource: resource, ID: id}
}

// ForbiddenError denies an action to the caller.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	if e.Action == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Action
}
