package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTOMLAndConvert(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	doc := `
memory_cap_bytes = 1073741824
pressure_pct = 0.9

[tables.events]
shard_duration_ms = 30000
ttl_ms = 3600000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadTOML(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1073741824), cfg.MemoryCapBytes)
	assert.Equal(t, 0.9, cfg.PressurePct)

	override := cfg.Tables["events"]
	tc := ToTableConfig("events", override)
	assert.Equal(t, int64(30000), tc.ShardDurationMs)
	assert.Equal(t, int64(3600000), tc.TTLMs)
	assert.Positive(t, tc.MaxMemoryBytes, "unset fields fall back to engine defaults")
}

func TestToTableConfigDefaultsWhenNoOverride(t *testing.T) {
	tc := ToTableConfig("events", TableConfig{})
	assert.Equal(t, int64(60_000), tc.ShardDurationMs)
}
