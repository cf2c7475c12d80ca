package secrets

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoge23/fats/pkg/storage"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "fats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertThenGet(t *testing.T) {
	m := NewManager(openTestStore(t))
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, "DB_URL", "postgres://localhost"))
	secret, err := m.Get(ctx, "DB_URL")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", secret.Value)
}

func TestUpsertOverwritesExistingValue(t *testing.T) {
	m := NewManager(openTestStore(t))
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, "API_KEY", "first"))
	require.NoError(t, m.Upsert(ctx, "API_KEY", "second"))

	secret, err := m.Get(ctx, "API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "second", secret.Value)
}

func TestGetMissingSecretReturnsNotFound(t *testing.T) {
	m := NewManager(openTestStore(t))
	_, err := m.Get(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
