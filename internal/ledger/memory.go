package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[Namespace]*memoryChain

	locksMu sync.Mutex
	locks   map[Namespace]*sync.Mutex

	beforeCommit func(*Entry) error
}

type memoryChain struct {
	entries []*Entry
	byID    map[uuid.UUID]int
	head    Head
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[Namespace]*memoryChain),
		locks:  make(map[Namespace]*sync.Mutex),
	}
}

// SetBeforeCommit installs a hook that runs after an entry is built and before
// it is committed. A non-nil error aborts the append, which is how tests
// simulate a storage failure inside the critical section.
func (s *MemoryStore) SetBeforeCommit(fn func(*Entry) error) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	s.beforeCommit = fn
}

// Tamper applies fn directly to the stored entry at seq, bypassing every
// ledger rule. It exists to simulate out-of-band edits of the underlying store.
func (s *MemoryStore) Tamper(ns Namespace, seq int64, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[ns]
	if ok {
		for _, e := range c.entries {
			if e.Sequence == seq {
				fn(e)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s sequence %d", ErrNotFound, ns, seq)
}

// Remove deletes the entry at seq without touching the head, simulating an
// out-of-band deletion.
func (s *MemoryStore) Remove(ns Namespace, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[ns]
	if !ok {
		return fmt.Errorf("%w: %s sequence %d", ErrNotFound, ns, seq)
	}
	for i, e := range c.entries {
		if e.Sequence != seq {
			continue
		}
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
		c.byID = make(map[uuid.UUID]int, len(c.entries))
		for j, kept := range c.entries {
			c.byID[kept.ID] = j
		}
		return nil
	}
	return fmt.Errorf("%w: %s sequence %d", ErrNotFound, ns, seq)
}

func (s *MemoryStore) appendLock(ns Namespace) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[ns]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ns] = l
	}
	return l
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, ns Namespace, build BuildFunc) (*Entry, error) {
	lock := s.appendLock(ns)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head, err := s.Head(ctx, ns)
	if err != nil {
		return nil, err
	}

	entry, err := build(head)
	if err != nil {
		return nil, err
	}
	if entry.Sequence != head.Sequence+1 || entry.PreviousHash != head.Hash {
		return nil, fmt.Errorf("entry does not extend head %d/%s", head.Sequence, head.Hash)
	}

	s.locksMu.Lock()
	hook := s.beforeCommit
	s.locksMu.Unlock()
	if hook != nil {
		if err := hook(entry); err != nil {
			return nil, err
		}
	}

	stored := entry.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[ns]
	if !ok {
		c = &memoryChain{byID: make(map[uuid.UUID]int)}
		s.chains[ns] = c
	}
	c.byID[stored.ID] = len(c.entries)
	c.entries = append(c.entries, stored)
	c.head = Head{Namespace: ns, Sequence: stored.Sequence, Hash: stored.ContentHash}
	return stored.Clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, ns Namespace, id uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, id)
	}
	i, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, id)
	}
	return c.entries[i].Clone(), nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(_ context.Context, ns Namespace, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[ns]
	if ok {
		for _, e := range c.entries {
			if e.Sequence == seq {
				return e.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s sequence %d", ErrNotFound, ns, seq)
}

// Head implements Store. The head always tracks the highest sequence ever
// committed, even if an entry was later removed out of band.
func (s *MemoryStore) Head(_ context.Context, ns Namespace) (Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[ns]
	if !ok {
		return emptyHead(ns), nil
	}
	return c.head, nil
}

// Scan implements Store. It works on a snapshot so fn may call back into the store.
func (s *MemoryStore) Scan(ctx context.Context, ns Namespace, fn func(*Entry) error) error {
	for _, e := range s.snapshot(ns) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, ns Namespace, f Filter) ([]*Entry, error) {
	var out []*Entry
	skipped := 0
	for _, e := range s.snapshot(ns) {
		if !f.matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(_ context.Context, ns Namespace, id uuid.UUID, inv Invalidation) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, id)
	}
	i, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, id)
	}
	e := c.entries[i]
	if e.Status != StatusValid {
		return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyInvalidated, ns, id)
	}
	e.Status = StatusInvalidated
	e.Invalidation = &inv
	return e.Clone(), nil
}

// Namespaces implements Store.
func (s *MemoryStore) Namespaces(_ context.Context) ([]Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Namespace, 0, len(s.chains))
	for ns := range s.chains {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) snapshot(ns Namespace) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[ns]
	if !ok {
		return nil
	}
	out := make([]*Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Clone()
	}
	return out
}
