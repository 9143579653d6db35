package rollover

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fghso/camps-dct/internal/resource"
	"github.com/fghso/camps-dct/internal/store"
	"github.com/fghso/camps-dct/internal/store/file"
)

func newTestConfig(dir string) Config {
	return Config{
		BasePath: filepath.Join(dir, "resources.json"),
		FileConfig: file.Config{
			Format: file.JSONFormat{},
			Schema: file.ColumnSchema{IDColumn: "id", StatusColumn: "status"},
		},
		MaxResources: 2,
	}
}

func TestNewWithNoExistingFilesStartsWithOneStore(t *testing.T) {
	dir := t.TempDir()
	rs, err := New(newTestConfig(dir))
	require.NoError(t, err)
	assert.Len(t, rs.stores, 1)
}

func TestInsertRollsToNewFileOnceThresholdCrossed(t *testing.T) {
	dir := t.TempDir()
	rs, err := New(newTestConfig(dir))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, rs.Insert(context.Background(), []store.NewResource{{ID: i}}))
	}

	assert.True(t, len(rs.stores) > 1, "expected rollover to have opened additional files")

	counts, err := rs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Total)
}

func TestSelectScansStoresInOrderAndUpdateRoutesBack(t *testing.T) {
	dir := t.TempDir()
	rs, err := New(newTestConfig(dir))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, rs.Insert(context.Background(), []store.NewResource{{ID: i}}))
	}

	rec, err := rs.Select(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.Key)

	require.NoError(t, rs.Update(context.Background(), rec.Key, resource.Succeeded, nil))

	counts, err := rs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Succeeded)
}

func TestDiscoverPathsOrdersBySuffix(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "resources.json")
	require.NoError(t, os.WriteFile(base, []byte(`{"columns":["id"],"resources":[]}`), 0o644))
	require.NoError(t, os.WriteFile(base+".1", []byte(`{"columns":["id"],"resources":[]}`), 0o644))
	require.NoError(t, os.WriteFile(base+".2", []byte(`{"columns":["id"],"resources":[]}`), 0o644))

	paths, maxSuffix, err := discoverPaths(base)
	require.NoError(t, err)
	require.Equal(t, []string{base, base + ".1", base + ".2"}, paths)
	require.Equal(t, 2, maxSuffix)
}

func TestDiscoverPathsReportsMaxSuffixAcrossAGap(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "resources.json")
	require.NoError(t, os.WriteFile(base, []byte(`{"columns":["id"],"resources":[]}`), 0o644))
	// base.1 is missing: simulates an archived/removed rolled file while
	// base.2 survives, leaving a gap in the discovered suffixes.
	require.NoError(t, os.WriteFile(base+".2", []byte(`{"columns":["id"],"resources":[]}`), 0o644))

	paths, maxSuffix, err := discoverPaths(base)
	require.NoError(t, err)
	require.Equal(t, []string{base, base + ".2"}, paths)
	require.Equal(t, 2, maxSuffix)
}

func TestRollAfterSuffixGapOpensNextSuffixInsteadOfColliding(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "resources.json")
	require.NoError(t, os.WriteFile(base, []byte(`{"columns":["id"],"resources":[]}`), 0o644))
	// base.1 is missing: simulates an archived/removed rolled file while
	// base.2 survives, leaving a gap. Before the fix, the next roll
	// computed its suffix from len(rs.stores) (== 2) and reopened
	// "resources.json.2", colliding with the already-open store.
	require.NoError(t, os.WriteFile(base+".2", []byte(`{"columns":["id"],"resources":[]}`), 0o644))

	rs, err := New(newTestConfig(dir))
	require.NoError(t, err)
	require.Len(t, rs.stores, 2, "expected base and base.2 to both be opened")
	require.Equal(t, 2, rs.maxSuffix)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rs.Insert(ctx, []store.NewResource{{ID: i}}))
	}
	require.Len(t, rs.stores, 3, "third insert should have rolled to a new file")
	require.NoError(t, rs.Shutdown(ctx))

	require.NoFileExists(t, base+".1")
	require.FileExists(t, base+".3")

	rolled, err := os.ReadFile(base + ".2")
	require.NoError(t, err)
	var rolledDoc struct {
		Resources []map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(rolled, &rolledDoc))
	assert.Len(t, rolledDoc.Resources, 2, "pre-existing base.2 store should hold only the first two inserts")

	newFile, err := os.ReadFile(base + ".3")
	require.NoError(t, err)
	var newDoc struct {
		Resources []map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(newFile, &newDoc))
	assert.Len(t, newDoc.Resources, 1, "the rolled-to file should hold the third insert, not overwrite base.2")
}
