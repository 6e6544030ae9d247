package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	src := `
fusion {
  confidence_floor   = 0.5
  smoothing_alpha    = 0.4
  vote_window        = "1s"
  quiet_period       = "3s"
  hand_timeout       = "45s"
  drain_on_shutdown  = true
}

server {
  port            = 9000
  observation_log = "session.jsonl"
}

storage {
  dsn              = "postgres://localhost/tablesight"
  record_snapshots = true
}

archive {
  enabled        = true
  flush_interval = "1m"
}

logging {
  level  = "debug"
  format = "json"
}
`
	path := filepath.Join(t.TempDir(), "tablesight.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Fusion.ConfidenceFloor)
	assert.Equal(t, 0.4, cfg.Fusion.SmoothingAlpha)
	assert.Equal(t, time.Second, cfg.Fusion.VoteWindow)
	assert.Equal(t, 3*time.Second, cfg.Fusion.QuietPeriod)
	assert.Equal(t, 45*time.Second, cfg.Fusion.HandTimeout)
	assert.True(t, cfg.Fusion.DrainOnShutdown)

	// Untouched settings keep their defaults.
	assert.Equal(t, 5, cfg.Fusion.VoteWindowSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Fusion.HeartbeatInterval)
	assert.Equal(t, "localhost", cfg.Server.Address)

	assert.Equal(t, "localhost:9000", cfg.Server.Addr())
	assert.Equal(t, "session.jsonl", cfg.Server.ObservationLog)
	assert.Equal(t, "postgres://localhost/tablesight", cfg.Storage.DSN)
	assert.True(t, cfg.Storage.RecordSnapshots)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "hands", cfg.Archive.Dir)
	assert.Equal(t, time.Minute, cfg.Archive.FlushInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParseEmptyDSNDisablesStorage(t *testing.T) {
	cfg, err := Parse([]byte(`storage { dsn = "" }`), "inline.hcl")
	require.NoError(t, err)
	assert.Empty(t, cfg.Storage.DSN)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `fusion {`},
		{"unknown attribute", `fusion { nonsense = 1 }`},
		{"bad duration", `fusion { quiet_period = "soon" }`},
		{"bad archive interval", `archive { flush_interval = "often" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "inline.hcl")
			assert.Error(t, err)
		})
	}
}

func TestFusionValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Fusion)
	}{
		{"floor above one", func(f *Fusion) { f.ConfidenceFloor = 1.2 }},
		{"zero alpha", func(f *Fusion) { f.SmoothingAlpha = 0 }},
		{"decay of one", func(f *Fusion) { f.StaleDecay = 1 }},
		{"empty vote window", func(f *Fusion) { f.VoteWindowSize = 0 }},
		{"zero debounce", func(f *Fusion) { f.DebounceCount = 0 }},
		{"zero quiet period", func(f *Fusion) { f.QuietPeriod = 0 }},
		{"negative hand timeout", func(f *Fusion) { f.HandTimeout = -time.Second }},
		{"zero queue", func(f *Fusion) { f.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFusion()
			tt.mutate(&f)
			assert.Error(t, f.Validate())
		})
	}

	assert.NoError(t, DefaultFusion().Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Archive.Enabled = true
	cfg.Archive.FlushEvery = 0
	assert.Error(t, cfg.Validate())
}
