package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fghso/camps-dct/internal/store"
)

func TestNewLoadsExistingCSVFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,status,size\n\"a\",0,10\n\"b\",2,20\n"), 0o644))

	fs, err := New(Config{Path: path, Schema: ColumnSchema{IDColumn: "id", StatusColumn: "status"}})
	require.NoError(t, err)

	counts, err := fs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Available)
	assert.Equal(t, 1, counts.Succeeded)
}

func TestNewWithMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(Config{Path: filepath.Join(dir, "missing.json")})
	require.NoError(t, err)

	counts, err := fs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)
}

func TestShutdownDumpsToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.json")

	fs, err := New(Config{Path: path, Schema: ColumnSchema{IDColumn: "id"}})
	require.NoError(t, err)

	require.NoError(t, fs.Insert(context.Background(), []store.NewResource{{ID: "x"}}))
	require.NoError(t, fs.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"x"`)
}

func TestAbortedStoreFailsFast(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(Config{Path: filepath.Join(dir, "resources.json"), Schema: ColumnSchema{IDColumn: "id"}})
	require.NoError(t, err)

	fs.aborted.Store(true)

	_, err = fs.Select(context.Background())
	assert.ErrorIs(t, err, store.ErrAborted)

	err = fs.Insert(context.Background(), []store.NewResource{{ID: "y"}})
	assert.ErrorIs(t, err, store.ErrAborted)
}

func TestDumpWriteTempThenRenameOverwritesLiveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"columns":["id"],"resources":[]}`), 0o644))

	fs, err := New(Config{Path: path, Schema: ColumnSchema{IDColumn: "id"}})
	require.NoError(t, err)
	require.NoError(t, fs.Insert(context.Background(), []store.NewResource{{ID: "z"}}))

	require.NoError(t, fs.dump())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files should remain after a successful dump")

	reloaded, err := New(Config{Path: path, Schema: ColumnSchema{IDColumn: "id"}})
	require.NoError(t, err)
	counts, err := reloaded.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}
