package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *FileStore {
	store, err := NewFileStore(t.TempDir(), hclog.NewNullLogger())
	require.NoError(t, err)
	return store
}

func TestFileStore_StoreAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Store(ctx, KindArtwork, "ab/cd/poster.original.jpg", []byte("first"))
	require.NoError(t, err)
	assert.True(t, store.Exists(ctx, KindArtwork, "ab/cd/poster.original.jpg"))
	assert.False(t, store.Exists(ctx, KindPhoto, "ab/cd/poster.original.jpg"))

	data, err := store.Get(ctx, KindArtwork, "ab/cd/poster.original.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Overwrite in place
	err = store.Store(ctx, KindArtwork, "ab/cd/poster.original.jpg", []byte("second"))
	require.NoError(t, err)
	data, err = store.Get(ctx, KindArtwork, "ab/cd/poster.original.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	// No temporary files left behind
	entries, err := os.ReadDir(filepath.Join(store.Root(), "artwork", "ab", "cd"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_GetMissing(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get(context.Background(), KindArtwork, "00/00/missing.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, aErrors.ErrContentNotFound)
}

func TestFileStore_Delete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, KindPhoto, "11/22/p.jpg", []byte("x")))
	require.NoError(t, store.Delete(ctx, KindPhoto, "11/22/p.jpg"))
	assert.False(t, store.Exists(ctx, KindPhoto, "11/22/p.jpg"))

	// Shard directories are cleaned up
	_, err := os.Stat(filepath.Join(store.Root(), "photo", "11"))
	assert.True(t, os.IsNotExist(err))

	// Deleting twice is fine
	assert.NoError(t, store.Delete(ctx, KindPhoto, "11/22/p.jpg"))
}

func TestFileStore_RejectsEscapingPaths(t *testing.T) {
	store := setupStore(t)

	err := store.Store(context.Background(), KindArtwork, "../outside.jpg", []byte("x"))
	assert.ErrorIs(t, err, aErrors.ErrInvalidInput)

	err = store.Store(context.Background(), KindArtwork, "/etc/passwd", []byte("x"))
	assert.ErrorIs(t, err, aErrors.ErrInvalidInput)
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, KindPhoto, KindFor(types.KindPhoto))
	assert.Equal(t, KindArtwork, KindFor(types.KindPoster))
}
