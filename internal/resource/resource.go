// Package resource implements the lifecycle shared by every simulated
// object: prefixed identity, creation with conflict detection, point
// retrieval, persistence through the store adapter, field export with
// reference expansion, and list pagination.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/store"
)

const idSuffixLength = 14

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomID returns an n-character alphanumeric identifier suffix.
func RandomID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return string(b)
}

// Base carries the fields every simulated object stores: a type-prefixed
// id, creation time in epoch seconds, the always-false livemode flag, and
// free-form metadata.
type Base struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Created  int64             `json:"created"`
	Livemode bool              `json:"livemode"`
	Metadata map[string]string `json:"metadata"`
}

// exportCommon seeds an export map with the base fields.
func (b Base) exportCommon() map[string]any {
	metadata := b.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"id":       b.ID,
		"object":   b.Object,
		"created":  b.Created,
		"livemode": b.Livemode,
		"metadata": metadata,
	}
}

// ExportCommon is exportCommon for use by the owning packages.
func (b Base) ExportCommon() map[string]any { return b.exportCommon() }

// MergeMetadata applies a metadata patch key-by-key: present keys
// overwrite, absent keys are left alone. Metadata never gets
// wholesale-replaced on update.
func MergeMetadata(dst map[string]string, patch map[string]string) map[string]string {
	if patch == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		dst[k] = v
	}
	return dst
}

// Engine persists typed resources through the store adapter and assigns
// identity at construction time.
type Engine struct {
	store store.Store
	clock func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, clock: time.Now}
}

// SetClock overrides the time source. Tests use this for deterministic
// created timestamps and billing periods.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.clock() }

// Store exposes the underlying adapter for the flush endpoint.
func (e *Engine) Store() store.Store { return e.store }

// NewBase constructs base identity for a resource. When explicitID is
// empty a fresh id is generated from the type prefix; otherwise the
// caller-supplied natural key is used verbatim (plans, products, coupons).
func (e *Engine) NewBase(object, prefix, explicitID string) Base {
	id := explicitID
	if id == "" {
		id = prefix + RandomID(idSuffixLength)
	}
	return Base{
		ID:      id,
		Object:  object,
		Created: e.clock().Unix(),
	}
}

// Key builds the storage key for an object/id pair.
func Key(object, id string) string {
	return object + ":" + id
}

// Create persists a new resource, failing with a conflict if the key
// already exists. The existence check is read-then-write: with a backend
// shared by several processes it is best-effort, which matches the
// platform being simulated.
func (e *Engine) Create(ctx context.Context, object, id string, v any) error {
	key := Key(object, id)

	if _, err := e.store.Get(ctx, key); err == nil {
		return domain.Conflict(object+".create", "Conflict")
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Internal(err, object+".create", "store lookup failed")
	}

	return e.Save(ctx, object, id, v)
}

// Retrieve loads a resource into v, failing with not-found if absent.
func (e *Engine) Retrieve(ctx context.Context, object, id string, v any) error {
	data, err := e.store.Get(ctx, Key(object, id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(object+".retrieve", object, id)
	}
	if err != nil {
		return domain.Internal(err, object+".retrieve", "store lookup failed")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.Internal(err, object+".retrieve", "corrupt stored resource")
	}
	return nil
}

// Save upserts a resource. Mutating operations re-read, change and write
// back the whole object; the last writer wins.
func (e *Engine) Save(ctx context.Context, object, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return domain.Internal(err, object+".save", "encode resource")
	}
	if err := e.store.Set(ctx, Key(object, id), data); err != nil {
		return domain.Internal(err, object+".save", "store write failed")
	}
	return nil
}

// Delete removes a resource, failing with not-found if absent. Types that
// forbid deletion (events, line items) never route here.
func (e *Engine) Delete(ctx context.Context, object, id string) error {
	err := e.store.Delete(ctx, Key(object, id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(object+".delete", object, id)
	}
	if err != nil {
		return domain.Internal(err, object+".delete", "store delete failed")
	}
	return nil
}

// All returns the raw stored documents for every resource of a type, in
// key order.
func (e *Engine) All(ctx context.Context, object string) ([][]byte, error) {
	values, err := e.store.ScanPrefix(ctx, object+":")
	if err != nil {
		return nil, domain.Internal(err, object+".list", "store scan failed")
	}
	return values, nil
}
