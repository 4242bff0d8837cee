// Package config loads optional TOML override documents for engine and
// table defaults, decoding into a plain intermediate struct and then
// converting into the domain types table.Config expects — the same
// decode-then-convert shape the teacher's TOML schema loader uses.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"streamshard/internal/table"
)

// EngineConfig is the top-level override document: global defaults plus
// any number of per-table overrides.
type EngineConfig struct {
	MemoryCapBytes int64                  `toml:"memory_cap_bytes"`
	PressurePct    float64                `toml:"pressure_pct"`
	Tables         map[string]TableConfig `toml:"tables"`
}

// TableConfig mirrors table.Config's fields in TOML-friendly form.
type TableConfig struct {
	ShardDurationMs   int64   `toml:"shard_duration_ms"`
	TTLMs             int64   `toml:"ttl_ms"`
	MaxMemoryBytes    int64   `toml:"max_memory_bytes"`
	SubsampleThreshMs int64   `toml:"subsample_threshold_ms"`
	SubsampleRatio    float64 `toml:"subsample_ratio"`
}

// LoadTOML decodes an EngineConfig from path. Missing fields simply leave
// the corresponding zero value; ToTableConfig applies engine defaults for
// anything left unset.
func LoadTOML(path string) (EngineConfig, error) {
	var cfg EngineConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ToTableConfig converts an override document entry into a table.Config,
// layering non-zero override fields on top of table.DefaultConfig(name).
func ToTableConfig(name string, override TableConfig) table.Config {
	cfg := table.DefaultConfig(name)
	if override.ShardDurationMs != 0 {
		cfg = cfg.WithShardDuration(override.ShardDurationMs)
	}
	if override.TTLMs != 0 {
		cfg = cfg.WithTTL(override.TTLMs)
	}
	if override.MaxMemoryBytes != 0 {
		cfg = cfg.WithMaxMemory(override.MaxMemoryBytes)
	}
	if override.SubsampleThreshMs != 0 {
		cfg = cfg.WithSubsampleThreshold(override.SubsampleThreshMs)
	}
	if override.SubsampleRatio != 0 {
		cfg = cfg.WithSubsampleRatio(override.SubsampleRatio)
	}
	return cfg
}
