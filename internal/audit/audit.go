// Package audit fans ledger activity out to system-wide audit trails.
//
// Every append, invalidation and authentication attempt is reported here in
// addition to being recorded by the ledger itself. Sinks are redundant with the
// chain: a sink failure never undoes a committed ledger mutation.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the activity an Event describes.
type Kind string

const (
	KindAppend        Kind = "append"
	KindInvalidate    Kind = "invalidate"
	KindAuthAttempt   Kind = "auth_attempt"
	KindChainVerified Kind = "chain_verified"
)

// Event is a transport-agnostic audit record.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Kind       Kind              `json:"kind"`
	Namespace  string            `json:"namespace,omitempty"`
	EntryID    string            `json:"entry_id,omitempty"`
	Sequence   int64             `json:"sequence,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Outcome    string            `json:"outcome"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Sink receives audit events. A sink only stores or forwards events; it never
// returns query results.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Multi forwards each event to every sink and joins their errors.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stamp fills in the ID and OccurredAt fields when they are unset.
func Stamp(e Event, now time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	return e
}
