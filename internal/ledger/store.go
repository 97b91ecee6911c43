package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BuildFunc constructs the next entry of a namespace from its current head.
// It runs inside the namespace's append critical section.
type BuildFunc func(head Head) (*Entry, error)

// Store is the durable, transactional collaborator that persists entries.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// Append holds the namespace's exclusive append lock while it reads the
	// head, calls build, persists the returned entry and advances the head.
	// Either all of that becomes visible or none of it does.
	Append(ctx context.Context, ns Namespace, build BuildFunc) (*Entry, error)

	// Get returns the entry with the given ID, or ErrNotFound.
	Get(ctx context.Context, ns Namespace, id uuid.UUID) (*Entry, error)

	// GetBySequence returns the entry at seq, or ErrNotFound.
	GetBySequence(ctx context.Context, ns Namespace, seq int64) (*Entry, error)

	// Head returns the namespace's head; an empty namespace has a GENESIS head.
	Head(ctx context.Context, ns Namespace) (Head, error)

	// Scan calls fn for every entry in ascending sequence order and stops at
	// the first error fn returns.
	Scan(ctx context.Context, ns Namespace, fn func(*Entry) error) error

	// List returns entries matching f in ascending sequence order.
	List(ctx context.Context, ns Namespace, f Filter) ([]*Entry, error)

	// Invalidate transitions a VALID entry to INVALIDATED and returns the
	// updated entry. Returns ErrNotFound or ErrAlreadyInvalidated.
	Invalidate(ctx context.Context, ns Namespace, id uuid.UUID, inv Invalidation) (*Entry, error)

	// Namespaces returns every namespace that has a head, sorted by name.
	Namespaces(ctx context.Context) ([]Namespace, error)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	// Field and Value match entries whose top-level payload field equals Value.
	Field  string
	Value  string
	Status Status
	Limit  int
	Offset int
}

func (f Filter) matches(e *Entry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Field != "" {
		v, ok := e.Payload[f.Field]
		if !ok || fieldString(v) != f.Value {
			return false
		}
	}
	return true
}

// fieldString renders a normalized payload value for grouping and filtering.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
