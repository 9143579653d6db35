package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
global:
  connection:
    address: "0.0.0.0"
    port: 9000
  feedback: true
server:
  loopForever: false
  persistence:
    class: "file"
    filename: "resources.csv"
    filetype: "csv"
    resourceIdColumn: "url"
    statusColumn: "status"
    saveTimeDelta: 30
    uniqueResourceId: true
  filtering:
    filter:
      - class: "SaveResourcesFilter"
        name: "save"
        parallel: true
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	cfg, err := Load(writeSampleConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Global.Connection.Address)
	assert.Equal(t, 9000, cfg.Global.Connection.Port)
	assert.True(t, cfg.Global.Feedback)
	assert.False(t, cfg.Server.LoopForever)
	assert.Equal(t, "file", cfg.Server.Persistence.Class)
	assert.Equal(t, "resources.csv", cfg.Server.Persistence.Filename)
	assert.True(t, cfg.Server.Persistence.UniqueResourceID)
	require.Len(t, cfg.Server.Filtering.Filter, 1)
	assert.Equal(t, "SaveResourcesFilter", cfg.Server.Filtering.Filter[0].Class)
	assert.True(t, cfg.Server.Filtering.Filter[0].Parallel)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
