package resource_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
	"github.com/adrienverge/localstripe/internal/store"
)

type fixture struct {
	resource.Base
	Amount int64 `json:"amount"`
}

func newEngine() *resource.Engine {
	eng := resource.NewEngine(store.NewMemory())
	eng.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	return eng
}

func TestNewBase_GeneratedID(t *testing.T) {
	eng := newEngine()

	b := eng.NewBase("charge", "ch_", "")

	assert.True(t, strings.HasPrefix(b.ID, "ch_"), "id should carry the type prefix")
	assert.Len(t, b.ID, len("ch_")+14, "suffix should be 14 characters")
	assert.Equal(t, int64(1700000000), b.Created)
	assert.False(t, b.Livemode, "livemode is always false")
}

func TestNewBase_ExplicitID(t *testing.T) {
	eng := newEngine()

	b := eng.NewBase("plan", "plan_", "gold")
	assert.Equal(t, "gold", b.ID, "natural keys are used verbatim")
}

func TestCreate_ConflictOnExplicitID(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()

	first := &fixture{Base: eng.NewBase("plan", "plan_", "gold"), Amount: 1000}
	require.NoError(t, eng.Create(ctx, "plan", first.ID, first))

	dup := &fixture{Base: eng.NewBase("plan", "plan_", "gold"), Amount: 2000}
	err := eng.Create(ctx, "plan", dup.ID, dup)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	// The original survives the rejected create.
	var got fixture
	require.NoError(t, eng.Retrieve(ctx, "plan", "gold", &got))
	assert.Equal(t, int64(1000), got.Amount)
}

func TestCreate_GeneratedIDsAlwaysSucceed(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		f := &fixture{Base: eng.NewBase("charge", "ch_", "")}
		require.NoError(t, eng.Create(ctx, "charge", f.ID, f))
		assert.False(t, seen[f.ID], "generated ids must not repeat")
		seen[f.ID] = true
	}
}

func TestRetrieve_NotFound(t *testing.T) {
	eng := newEngine()

	var got fixture
	err := eng.Retrieve(context.Background(), "charge", "ch_missing", &got)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()

	f := &fixture{Base: eng.NewBase("customer", "cus_", "")}
	require.NoError(t, eng.Create(ctx, "customer", f.ID, f))
	require.NoError(t, eng.Delete(ctx, "customer", f.ID))

	err := eng.Delete(ctx, "customer", f.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestMergeMetadata(t *testing.T) {
	dst := map[string]string{"a": "1", "b": "2"}

	dst = resource.MergeMetadata(dst, map[string]string{"b": "patched", "c": "3"})

	assert.Equal(t, map[string]string{"a": "1", "b": "patched", "c": "3"}, dst,
		"patch merges key-by-key, absent keys survive")

	assert.Equal(t, map[string]string{"x": "1"},
		resource.MergeMetadata(nil, map[string]string{"x": "1"}),
		"nil destination is allocated on demand")
}

func TestPaginate(t *testing.T) {
	items := make([]map[string]any, 0, 25)
	for i := 0; i < 25; i++ {
		items = append(items, map[string]any{"id": fmt.Sprintf("ch_%02d", i)})
	}

	t.Run("first page", func(t *testing.T) {
		l := resource.Paginate("/v1/charges", items, 10, "")
		assert.Len(t, l.Data, 10)
		assert.Equal(t, 25, l.TotalCount, "total_count is pre-pagination")
		assert.True(t, l.HasMore)
		assert.Equal(t, "ch_00", l.Data[0]["id"])
	})

	t.Run("cursor continuation is disjoint and order-consistent", func(t *testing.T) {
		first := resource.Paginate("/v1/charges", items, 10, "")
		last, _ := first.Data[len(first.Data)-1]["id"].(string)

		second := resource.Paginate("/v1/charges", items, 10, last)
		assert.Equal(t, "ch_10", second.Data[0]["id"], "resumes immediately after the cursor")
		assert.True(t, second.HasMore)

		third := resource.Paginate("/v1/charges", items, 10, "ch_19")
		assert.Len(t, third.Data, 5)
		assert.False(t, third.HasMore)

		// No duplicates or gaps across the three pages.
		seen := map[string]bool{}
		for _, page := range []*resource.List{first, second, third} {
			for _, item := range page.Data {
				id := item["id"].(string)
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
			}
		}
		assert.Len(t, seen, 25)
	})

	t.Run("unmatched cursor silently restarts", func(t *testing.T) {
		l := resource.Paginate("/v1/charges", items, 10, "ch_nope")
		assert.Equal(t, "ch_00", l.Data[0]["id"])
	})

	t.Run("non-positive limit falls back to default", func(t *testing.T) {
		l := resource.Paginate("/v1/charges", items, 0, "")
		assert.Len(t, l.Data, resource.DefaultListLimit)
	})
}

func TestExpand(t *testing.T) {
	ctx := context.Background()
	reg := resource.NewRegistry()
	reg.Register("cus_", func(_ context.Context, id string) (map[string]any, error) {
		if id != "cus_1" {
			return nil, domain.NotFound("expand", "customer", id)
		}
		return map[string]any{"id": "cus_1", "object": "customer"}, nil
	})

	t.Run("replaces id with full representation", func(t *testing.T) {
		m := map[string]any{"id": "ch_1", "customer": "cus_1"}
		require.NoError(t, resource.Expand(ctx, m, []string{"customer"}, reg))

		expanded, ok := m["customer"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "customer", expanded["object"])
	})

	t.Run("null references are left alone", func(t *testing.T) {
		m := map[string]any{"customer": nil}
		require.NoError(t, resource.Expand(ctx, m, []string{"customer"}, reg))
		assert.Nil(t, m["customer"])
	})

	t.Run("traverses list wrappers", func(t *testing.T) {
		m := map[string]any{
			"refunds": map[string]any{
				"object": "list",
				"data": []any{
					map[string]any{"id": "re_1", "customer": "cus_1"},
				},
			},
		}
		require.NoError(t, resource.Expand(ctx, m, []string{"refunds.data.customer"}, reg))
	})

	t.Run("unknown segment is a validation error naming the key", func(t *testing.T) {
		m := map[string]any{"id": "ch_1"}
		err := resource.Expand(ctx, m, []string{"nonexistent"}, reg)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		assert.Contains(t, domain.ErrorMessage(err), "nonexistent")
	})

	t.Run("depth limit", func(t *testing.T) {
		m := map[string]any{"a": map[string]any{}}
		err := resource.Expand(ctx, m, []string{"a.b.c.d.e"}, reg)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("unknown prefix", func(t *testing.T) {
		m := map[string]any{"thing": "zz_1"}
		err := resource.Expand(ctx, m, []string{"thing"}, reg)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}
