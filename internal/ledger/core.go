package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/audit"
	"github.com/jmerrifield20/clinledger/internal/canonical"
	"go.uber.org/zap"
)

// MetricsRecorder receives ledger operation outcomes. The API layer backs it
// with Prometheus collectors.
type MetricsRecorder interface {
	RecordAppend(ns Namespace, code Code, d time.Duration)
	RecordVerification(ns Namespace, scope string, code Code)
	RecordInvalidation(ns Namespace, code Code)
}

// AppendResult identifies a newly appended entry.
type AppendResult struct {
	ID           uuid.UUID `json:"id"`
	Namespace    Namespace `json:"namespace"`
	Sequence     int64     `json:"sequence"`
	ContentHash  string    `json:"content_hash"`
	PreviousHash string    `json:"previous_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Core owns chain state for every registered namespace: it assigns sequence
// numbers and hashes on append, verifies entries and chains, and invalidates
// entries.
type Core struct {
	store    Store
	encoders *canonical.Registry
	hasher   Hasher
	hashers  map[string]Hasher
	now      func() time.Time
	sink     audit.Sink
	metrics  MetricsRecorder
	logger   *zap.Logger

	mu         sync.RWMutex
	namespaces map[Namespace]NamespaceOptions
}

// Option configures a Core.
type Option func(*Core)

// WithHasher sets the hash primitive used for new entries.
func WithHasher(h Hasher) Option {
	return func(c *Core) {
		c.hasher = h
		c.hashers[h.Name()] = h
	}
}

// WithEncoders replaces the canonical encoder registry.
func WithEncoders(r *canonical.Registry) Option {
	return func(c *Core) { c.encoders = r }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// WithAuditSink sets the sink that every append and invalidation is reported to.
func WithAuditSink(s audit.Sink) Option {
	return func(c *Core) { c.sink = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Core) { c.metrics = m }
}

// New creates a Core over store. By default entries are hashed with SHA-256
// and encoded with the current canonical encoder.
func New(store Store, logger *zap.Logger, opts ...Option) *Core {
	c := &Core{
		store:      store,
		encoders:   canonical.DefaultRegistry(),
		hasher:     SHA256,
		hashers:    make(map[string]Hasher, len(builtinHashers)),
		now:        time.Now,
		sink:       audit.Nop,
		logger:     logger,
		namespaces: make(map[Namespace]NamespaceOptions),
	}
	for name, h := range builtinHashers {
		c.hashers[name] = h
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register adds ns to the namespace registry. Appends to unregistered
// namespaces are rejected.
func (c *Core) Register(ns Namespace, opts NamespaceOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces[ns] = opts
}

// Namespaces returns the registered namespaces sorted by name.
func (c *Core) Namespaces() []Namespace {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Namespace, 0, len(c.namespaces))
	for ns := range c.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Now returns the current time from the configured clock.
func (c *Core) Now() time.Time {
	return c.now().UTC()
}

// Hasher returns the hash primitive used for new entries.
func (c *Core) Hasher() Hasher {
	return c.hasher
}

// HasherByName resolves a hash algorithm name against the hashers this core
// knows: the built-ins plus any injected with WithHasher.
func (c *Core) HasherByName(name string) (Hasher, bool) {
	if h, ok := c.hashers[name]; ok {
		return h, true
	}
	h, ok := c.hashers[strings.ToLower(strings.TrimSpace(name))]
	return h, ok
}

func (c *Core) options(ns Namespace) (NamespaceOptions, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	opts, ok := c.namespaces[ns]
	if !ok {
		return NamespaceOptions{}, ValidationErrorf("unknown namespace %q", ns)
	}
	return opts, nil
}

// Append validates payload, checks authn for namespaces that require it, and
// appends a new VALID entry chained to the namespace head. Nothing is written
// when validation or authentication fails.
func (c *Core) Append(ctx context.Context, ns Namespace, payload Payload, authn *AuthnResult) (*AppendResult, error) {
	start := time.Now()
	res, err := c.append(ctx, ns, payload, authn)
	if c.metrics != nil {
		c.metrics.RecordAppend(ns, Classify(err), time.Since(start))
	}
	return res, err
}

func (c *Core) append(ctx context.Context, ns Namespace, payload Payload, authn *AuthnResult) (*AppendResult, error) {
	opts, err := c.options(ns)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, ValidationErrorf("payload is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, asValidation(err)
	}
	if opts.RequireAuthentication {
		if err := authn.check(payload); err != nil {
			return nil, err
		}
	}

	enc := c.encoders.Current()
	fields, err := enc.Normalize(payload.Fields())
	if err != nil {
		return nil, asValidation(err)
	}

	entry, err := c.store.Append(ctx, ns, func(head Head) (*Entry, error) {
		prev := head.Hash
		if head.Sequence == 0 {
			prev = GenesisHash
		}
		hash, err := computeHash(c.hasher, enc, fields, prev)
		if err != nil {
			return nil, asValidation(err)
		}
		return &Entry{
			ID:              uuid.New(),
			Namespace:       ns,
			Sequence:        head.Sequence + 1,
			Payload:         fields,
			EncodingVersion: enc.Version(),
			HashAlgorithm:   c.hasher.Name(),
			ContentHash:     hash,
			PreviousHash:    prev,
			Status:          StatusValid,
			CreatedAt:       c.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, storageError("append", err)
	}

	c.logger.Debug("ledger entry appended",
		zap.String("namespace", ns.String()),
		zap.Int64("sequence", entry.Sequence),
		zap.String("content_hash", entry.ContentHash),
	)
	actor := ""
	if authn != nil {
		actor = authn.SignerID
	}
	c.emit(ctx, audit.Event{
		Kind:      audit.KindAppend,
		Namespace: ns.String(),
		EntryID:   entry.ID.String(),
		Sequence:  entry.Sequence,
		Actor:     actor,
		Outcome:   "appended",
		Detail:    map[string]string{"content_hash": entry.ContentHash, "previous_hash": entry.PreviousHash},
	})

	return &AppendResult{
		ID:           entry.ID,
		Namespace:    ns,
		Sequence:     entry.Sequence,
		ContentHash:  entry.ContentHash,
		PreviousHash: entry.PreviousHash,
		CreatedAt:    entry.CreatedAt,
	}, nil
}

// Get returns the entry with the given ID.
func (c *Core) Get(ctx context.Context, ns Namespace, id uuid.UUID) (*Entry, error) {
	e, err := c.store.Get(ctx, ns, id)
	if err != nil {
		return nil, storageError("get entry", err)
	}
	return e, nil
}

// GetBySequence returns the entry at seq.
func (c *Core) GetBySequence(ctx context.Context, ns Namespace, seq int64) (*Entry, error) {
	e, err := c.store.GetBySequence(ctx, ns, seq)
	if err != nil {
		return nil, storageError("get entry", err)
	}
	return e, nil
}

// Head returns the current head of ns.
func (c *Core) Head(ctx context.Context, ns Namespace) (Head, error) {
	h, err := c.store.Head(ctx, ns)
	if err != nil {
		return Head{}, storageError("read head", err)
	}
	return h, nil
}

// Heads returns the head of every registered namespace.
func (c *Core) Heads(ctx context.Context) ([]Head, error) {
	var out []Head
	for _, ns := range c.Namespaces() {
		h, err := c.Head(ctx, ns)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// List returns entries of ns matching f.
func (c *Core) List(ctx context.Context, ns Namespace, f Filter) ([]*Entry, error) {
	entries, err := c.store.List(ctx, ns, f)
	if err != nil {
		return nil, storageError("list entries", err)
	}
	return entries, nil
}

// emit reports e to the audit sink. Sink failures are logged only: the ledger
// mutation has already committed and the chain remains the source of truth.
func (c *Core) emit(ctx context.Context, e audit.Event) {
	e = audit.Stamp(e, c.now())
	if err := c.sink.Emit(ctx, e); err != nil {
		c.logger.Warn("audit sink emit failed",
			zap.String("kind", string(e.Kind)),
			zap.String("entry_id", e.EntryID),
			zap.Error(err),
		)
	}
}

func asValidation(err error) error {
	if errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
