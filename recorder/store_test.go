package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_InsertAndLatest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoReadings)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.Insert(ctx, Reading{Session: "a", Lux: 120.5, Proximity: 30, CreatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	_, err = store.Insert(ctx, Reading{Session: "a", Lux: 99.25, Proximity: 1800, Near: true, CreatedAt: at.Add(time.Second)})
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.ID)
	assert.Equal(t, "a", latest.Session)
	assert.Equal(t, 99.25, latest.Lux)
	assert.Equal(t, uint16(1800), latest.Proximity)
	assert.True(t, latest.Near)
	assert.True(t, at.Add(time.Second).Equal(latest.CreatedAt))
}

func TestStore_InsertDefaultsTimestamp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Second)
	_, err := store.Insert(ctx, Reading{Session: "a"})
	require.NoError(t, err)
	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.CreatedAt.After(before))
}

func TestStore_SessionAndRange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, session := range []string{"a", "b", "a", "b", "a"} {
		_, err := store.Insert(ctx, Reading{Session: session, Lux: float64(i), CreatedAt: at.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	readings, err := store.Session(ctx, "a")
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, []float64{0, 2, 4}, []float64{readings[0].Lux, readings[1].Lux, readings[2].Lux})

	readings, err = store.Session(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, readings)

	readings, err = store.Range(ctx, at.Add(time.Minute), at.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 1.0, readings[0].Lux)
	assert.Equal(t, 3.0, readings[2].Lux)
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, migrate(context.Background(), store.db))
}
