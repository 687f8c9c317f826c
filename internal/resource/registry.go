package resource

import (
	"context"
	"strings"
	"sync"

	"github.com/adrienverge/localstripe/internal/domain"
)

// ExportFunc loads a resource by id and returns its exported public
// representation.
type ExportFunc func(ctx context.Context, id string) (map[string]any, error)

// Registry maps id prefixes to types so that a bare foreign id found
// during expansion can be resolved to its full representation. Types
// identified by caller-supplied natural keys (plans, products) have no
// prefix and are not resolvable this way; their owners embed them
// directly where the platform does.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string]ExportFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPrefix: make(map[string]ExportFunc)}
}

// Register binds an id prefix (e.g. "ch_") to its export function.
func (r *Registry) Register(prefix string, export ExportFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrefix[prefix] = export
}

// ExportByID resolves an id to a full exported representation via its
// prefix. Unknown prefixes fail with a validation error: the client asked
// to expand something that is not a reference.
func (r *Registry) ExportByID(ctx context.Context, id string) (map[string]any, error) {
	idx := strings.Index(id, "_")
	if idx < 0 {
		return nil, domain.Invalid("expand", "cannot expand id: "+id)
	}
	prefix := id[:idx+1]

	r.mu.RLock()
	export, ok := r.byPrefix[prefix]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.Invalid("expand", "cannot expand id: "+id)
	}
	return export(ctx, id)
}
