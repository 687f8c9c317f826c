package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrienverge/localstripe/internal/store"
)

// backends under test; postgres needs a live database so it is exercised
// only through the shared contract when DATABASE_URL points somewhere real.
func testBackends(t *testing.T) map[string]store.Store {
	t.Helper()

	bolt, err := store.NewBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]store.Store{
		"memory": store.NewMemory(),
		"bolt":   bolt,
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()

	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "charge:ch_missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Set(ctx, "charge:ch_1", []byte(`{"id":"ch_1"}`)))

			v, err := s.Get(ctx, "charge:ch_1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"ch_1"}`, string(v))

			// Upsert overwrites.
			require.NoError(t, s.Set(ctx, "charge:ch_1", []byte(`{"id":"ch_1","amount":500}`)))
			v, err = s.Get(ctx, "charge:ch_1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"ch_1","amount":500}`, string(v))

			require.NoError(t, s.Delete(ctx, "charge:ch_1"))
			assert.ErrorIs(t, s.Delete(ctx, "charge:ch_1"), store.ErrNotFound)
		})
	}
}

func TestStore_ScanPrefix(t *testing.T) {
	ctx := context.Background()

	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "plan:basic", []byte(`"basic"`)))
			require.NoError(t, s.Set(ctx, "plan:gold", []byte(`"gold"`)))
			require.NoError(t, s.Set(ctx, "charge:ch_1", []byte(`"ch_1"`)))

			values, err := s.ScanPrefix(ctx, "plan:")
			require.NoError(t, err)
			require.Len(t, values, 2, "only plan keys should match")

			// Ascending key order.
			assert.Equal(t, `"basic"`, string(values[0]))
			assert.Equal(t, `"gold"`, string(values[1]))

			values, err = s.ScanPrefix(ctx, "refund:")
			require.NoError(t, err)
			assert.Empty(t, values)
		})
	}
}

func TestStore_Flush(t *testing.T) {
	ctx := context.Background()

	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "customer:cus_1", []byte(`{}`)))
			require.NoError(t, s.Flush(ctx))

			_, err := s.Get(ctx, "customer:cus_1")
			assert.ErrorIs(t, err, store.ErrNotFound)

			// Store stays usable after a flush.
			require.NoError(t, s.Set(ctx, "customer:cus_2", []byte(`{}`)))
			_, err = s.Get(ctx, "customer:cus_2")
			assert.NoError(t, err)
		})
	}
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.db")

	s, err := store.NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "event:evt_1", []byte(`{"id":"evt_1"}`)))
	require.NoError(t, s.Close())

	reopened, err := store.NewBolt(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, "event:evt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(v))
}
