package resource

import (
	"context"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
)

// maxExpandDepth bounds how many dotted segments a single expand path may
// have, matching the platform's limit.
const maxExpandDepth = 4

// Expand resolves each dotted path in-place on an exported map. The field
// at the end of a path must hold a foreign id (or null); the id is looked
// up through the registry and replaced with the full exported
// representation of the referenced resource. Intermediate segments may
// traverse nested objects and list wrappers ("refunds.data.charge").
func Expand(ctx context.Context, m map[string]any, paths []string, reg *Registry) error {
	for _, path := range paths {
		segments := strings.Split(path, ".")
		if len(segments) > maxExpandDepth {
			return domain.Invalid("expand", "expand path too deep: "+path)
		}
		if err := expandPath(ctx, m, segments, reg); err != nil {
			return err
		}
	}
	return nil
}

func expandPath(ctx context.Context, node map[string]any, segments []string, reg *Registry) error {
	key := segments[0]
	value, ok := node[key]
	if !ok {
		return domain.Invalid("expand", "no such expandable field: "+key)
	}

	if len(segments) == 1 {
		switch v := value.(type) {
		case nil:
			return nil // expanding a null reference is a no-op
		case string:
			expanded, err := reg.ExportByID(ctx, v)
			if err != nil {
				return err
			}
			node[key] = expanded
			return nil
		case map[string]any:
			return nil // already an embedded object
		default:
			return domain.Invalid("expand", "field is not expandable: "+key)
		}
	}

	rest := segments[1:]
	switch v := value.(type) {
	case map[string]any:
		return expandPath(ctx, v, rest, reg)
	case []any:
		for _, item := range v {
			child, ok := item.(map[string]any)
			if !ok {
				return domain.Invalid("expand", "no such expandable field: "+rest[0])
			}
			if err := expandPath(ctx, child, rest, reg); err != nil {
				return err
			}
		}
		return nil
	default:
		return domain.Invalid("expand", "no such expandable field: "+rest[0])
	}
}
