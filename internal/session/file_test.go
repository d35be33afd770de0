package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_EmptyOnFirstLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	mapping, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestFileStore_RoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "inst-1", "5511999999999@s.whatsapp.net"))
	require.NoError(t, store.Set(ctx, "inst-2", "5511888888888@s.whatsapp.net"))

	// A fresh store over the same directory sees the persisted state.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	mapping, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"inst-1": "5511999999999@s.whatsapp.net",
		"inst-2": "5511888888888@s.whatsapp.net",
	}, mapping)
}

func TestFileStore_SetIsUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "inst", "old@s.whatsapp.net"))
	require.NoError(t, store.Set(ctx, "inst", "new@s.whatsapp.net"))

	mapping, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new@s.whatsapp.net", mapping["inst"])
	assert.Len(t, mapping, 1)
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "inst", "jid@s.whatsapp.net"))
	require.NoError(t, store.Delete(ctx, "inst"))
	require.NoError(t, store.Delete(ctx, "inst"))

	mapping, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, mappingFileName), []byte("{not json"), 0644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err)
}
