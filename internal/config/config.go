// Package config holds every tunable of the fusion engine and the services
// around it, loaded from an HCL file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Fusion collects the engine thresholds. Each field documents its effect.
type Fusion struct {
	// ConfidenceFloor drops observations below this confidence before smoothing.
	ConfidenceFloor float64
	// SmoothingAlpha is the responsiveness of numeric fields. Higher values
	// follow new readings faster.
	SmoothingAlpha float64
	// VoteWindowSize is the number of recent observations a discrete field votes over.
	VoteWindowSize int
	// VoteWindow bounds the age of observations taking part in a vote.
	VoteWindow time.Duration
	// DebounceCount is how many consecutive observations a challenger must
	// out-vote the incumbent for before a discrete field changes.
	DebounceCount int
	// StaleMissThreshold is the number of cycles without a fresh observation
	// after which a field is marked stale.
	StaleMissThreshold int
	// StaleDecay multiplies the confidence of a stale field once per cycle.
	StaleDecay float64
	// PublishThreshold is the minimum confidence each board card needs before
	// a street transition is committed.
	PublishThreshold float64
	// QuietPeriod is how long a showdown must go without hand activity before
	// the hand is closed.
	QuietPeriod time.Duration
	// HandTimeout is how long the engine tolerates no hand progress before it
	// reports the session as lost.
	HandTimeout time.Duration
	// HeartbeatInterval is the cadence of liveness snapshots.
	HeartbeatInterval time.Duration
	// CycleInterval is the cadence of fusion cycles in the run loop.
	CycleInterval time.Duration
	// QueueSize bounds pending observations; the oldest are dropped when full.
	QueueSize int
	// DrainOnShutdown processes queued observations one last time on shutdown
	// instead of discarding them.
	DrainOnShutdown bool
}

// DefaultFusion returns the stock engine thresholds
func DefaultFusion() Fusion {
	return Fusion{
		ConfidenceFloor:    0.35,
		SmoothingAlpha:     0.6,
		VoteWindowSize:     5,
		VoteWindow:         1500 * time.Millisecond,
		DebounceCount:      2,
		StaleMissThreshold: 10,
		StaleDecay:         0.8,
		PublishThreshold:   0.6,
		QuietPeriod:        2 * time.Second,
		HandTimeout:        30 * time.Second,
		HeartbeatInterval:  150 * time.Millisecond,
		CycleInterval:      33 * time.Millisecond,
		QueueSize:          500,
	}
}

// Validate checks the thresholds are usable
func (f Fusion) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	positive := func(name string, v time.Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}

	unit("confidence_floor", f.ConfidenceFloor)
	unit("publish_threshold", f.PublishThreshold)
	if f.SmoothingAlpha <= 0 || f.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing_alpha must be within (0,1], got %v", f.SmoothingAlpha))
	}
	if f.StaleDecay <= 0 || f.StaleDecay >= 1 {
		errs = append(errs, fmt.Errorf("stale_decay must be within (0,1), got %v", f.StaleDecay))
	}
	if f.VoteWindowSize < 1 {
		errs = append(errs, fmt.Errorf("vote_window_size must be at least 1, got %d", f.VoteWindowSize))
	}
	if f.DebounceCount < 1 {
		errs = append(errs, fmt.Errorf("debounce_count must be at least 1, got %d", f.DebounceCount))
	}
	if f.StaleMissThreshold < 1 {
		errs = append(errs, fmt.Errorf("stale_miss_threshold must be at least 1, got %d", f.StaleMissThreshold))
	}
	if f.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1, got %d", f.QueueSize))
	}
	positive("vote_window", f.VoteWindow)
	positive("quiet_period", f.QuietPeriod)
	positive("hand_timeout", f.HandTimeout)
	positive("heartbeat_interval", f.HeartbeatInterval)
	positive("cycle_interval", f.CycleInterval)

	return errors.Join(errs...)
}

// Config is the complete service configuration
type Config struct {
	Fusion  Fusion
	Server  Server
	Storage Storage
	Archive Archive
	Logging Logging
}

// Server configures the websocket feed
type Server struct {
	Address string
	Port    int
	// SubscriberBuffer is the per-subscriber snapshot backlog before the
	// oldest pending snapshot is dropped.
	SubscriberBuffer int
	// ObservationLog, when set, records every submitted observation as JSON lines.
	ObservationLog string
}

// Addr returns the listen address
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Storage configures the hand and snapshot recorder
type Storage struct {
	// DSN selects the backend by scheme: postgres:// or postgresql:// use
	// PostgreSQL, anything else is treated as a SQLite path or sqlite:// URL.
	// Empty disables the recorder.
	DSN string
	// RecordSnapshots persists every published snapshot, not only closed hands.
	RecordSnapshots bool
	// SnapshotFile, when set, is atomically rewritten with the latest snapshot.
	SnapshotFile string
}

// Archive configures the buffered hand archive
type Archive struct {
	Enabled       bool
	Dir           string
	FlushEvery    int
	FlushInterval time.Duration
}

// Logging configures the root logger
type Logging struct {
	Level  string
	Format string
	File   string
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Fusion: DefaultFusion(),
		Server: Server{
			Address:          "localhost",
			Port:             8087,
			SubscriberBuffer: 16,
		},
		Storage: Storage{
			DSN: "tablesight.db",
		},
		Archive: Archive{
			Dir:           "hands",
			FlushEvery:    10,
			FlushInterval: 30 * time.Second,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// fileConfig mirrors the HCL layout. Durations are written as strings such
// as "1500ms" or "2s".
type fileConfig struct {
	Fusion  *fusionBlock  `hcl:"fusion,block"`
	Server  *serverBlock  `hcl:"server,block"`
	Storage *storageBlock `hcl:"storage,block"`
	Archive *archiveBlock `hcl:"archive,block"`
	Logging *loggingBlock `hcl:"logging,block"`
}

type fusionBlock struct {
	ConfidenceFloor    *float64 `hcl:"confidence_floor,optional"`
	SmoothingAlpha     *float64 `hcl:"smoothing_alpha,optional"`
	VoteWindowSize     *int     `hcl:"vote_window_size,optional"`
	VoteWindow         *string  `hcl:"vote_window,optional"`
	DebounceCount      *int     `hcl:"debounce_count,optional"`
	StaleMissThreshold *int     `hcl:"stale_miss_threshold,optional"`
	StaleDecay         *float64 `hcl:"stale_decay,optional"`
	PublishThreshold   *float64 `hcl:"publish_threshold,optional"`
	QuietPeriod        *string  `hcl:"quiet_period,optional"`
	HandTimeout        *string  `hcl:"hand_timeout,optional"`
	HeartbeatInterval  *string  `hcl:"heartbeat_interval,optional"`
	CycleInterval      *string  `hcl:"cycle_interval,optional"`
	QueueSize          *int     `hcl:"queue_size,optional"`
	DrainOnShutdown    *bool    `hcl:"drain_on_shutdown,optional"`
}

type serverBlock struct {
	Address          string `hcl:"address,optional"`
	Port             int    `hcl:"port,optional"`
	SubscriberBuffer int    `hcl:"subscriber_buffer,optional"`
	ObservationLog   string `hcl:"observation_log,optional"`
}

type storageBlock struct {
	DSN             *string `hcl:"dsn,optional"`
	RecordSnapshots bool    `hcl:"record_snapshots,optional"`
	SnapshotFile    string  `hcl:"snapshot_file,optional"`
}

type archiveBlock struct {
	Enabled       bool   `hcl:"enabled,optional"`
	Dir           string `hcl:"dir,optional"`
	FlushEvery    int    `hcl:"flush_every,optional"`
	FlushInterval string `hcl:"flush_interval,optional"`
}

type loggingBlock struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
	File   string `hcl:"file,optional"`
}

// Load reads configuration from an HCL file. A missing file yields the defaults.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(src, filename)
}

// Parse decodes HCL source on top of the defaults
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var raw fileConfig
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg := Default()
	if err := raw.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (raw *fileConfig) apply(cfg *Config) error {
	if f := raw.Fusion; f != nil {
		setFloat(&cfg.Fusion.ConfidenceFloor, f.ConfidenceFloor)
		setFloat(&cfg.Fusion.SmoothingAlpha, f.SmoothingAlpha)
		setInt(&cfg.Fusion.VoteWindowSize, f.VoteWindowSize)
		setInt(&cfg.Fusion.DebounceCount, f.DebounceCount)
		setInt(&cfg.Fusion.StaleMissThreshold, f.StaleMissThreshold)
		setFloat(&cfg.Fusion.StaleDecay, f.StaleDecay)
		setFloat(&cfg.Fusion.PublishThreshold, f.PublishThreshold)
		setInt(&cfg.Fusion.QueueSize, f.QueueSize)
		if f.DrainOnShutdown != nil {
			cfg.Fusion.DrainOnShutdown = *f.DrainOnShutdown
		}

		durations := []struct {
			name string
			src  *string
			dst  *time.Duration
		}{
			{"vote_window", f.VoteWindow, &cfg.Fusion.VoteWindow},
			{"quiet_period", f.QuietPeriod, &cfg.Fusion.QuietPeriod},
			{"hand_timeout", f.HandTimeout, &cfg.Fusion.HandTimeout},
			{"heartbeat_interval", f.HeartbeatInterval, &cfg.Fusion.HeartbeatInterval},
			{"cycle_interval", f.CycleInterval, &cfg.Fusion.CycleInterval},
		}
		for _, d := range durations {
			if d.src == nil {
				continue
			}
			parsed, err := time.ParseDuration(*d.src)
			if err != nil {
				return fmt.Errorf("fusion.%s: %w", d.name, err)
			}
			*d.dst = parsed
		}
	}

	if s := raw.Server; s != nil {
		if s.Address != "" {
			cfg.Server.Address = s.Address
		}
		if s.Port != 0 {
			cfg.Server.Port = s.Port
		}
		if s.SubscriberBuffer != 0 {
			cfg.Server.SubscriberBuffer = s.SubscriberBuffer
		}
		cfg.Server.ObservationLog = s.ObservationLog
	}

	if s := raw.Storage; s != nil {
		if s.DSN != nil {
			cfg.Storage.DSN = *s.DSN
		}
		cfg.Storage.RecordSnapshots = s.RecordSnapshots
		cfg.Storage.SnapshotFile = s.SnapshotFile
	}

	if a := raw.Archive; a != nil {
		cfg.Archive.Enabled = a.Enabled
		if a.Dir != "" {
			cfg.Archive.Dir = a.Dir
		}
		if a.FlushEvery != 0 {
			cfg.Archive.FlushEvery = a.FlushEvery
		}
		if a.FlushInterval != "" {
			d, err := time.ParseDuration(a.FlushInterval)
			if err != nil {
				return fmt.Errorf("archive.flush_interval: %w", err)
			}
			cfg.Archive.FlushInterval = d
		}
	}

	if l := raw.Logging; l != nil {
		if l.Level != "" {
			cfg.Logging.Level = l.Level
		}
		if l.Format != "" {
			cfg.Logging.Format = l.Format
		}
		cfg.Logging.File = l.File
	}
	return nil
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.SubscriberBuffer < 1 {
		return fmt.Errorf("invalid subscriber buffer: %d", c.Server.SubscriberBuffer)
	}
	if c.Archive.Enabled {
		if c.Archive.FlushEvery < 1 {
			return fmt.Errorf("archive flush_every must be at least 1, got %d", c.Archive.FlushEvery)
		}
		if c.Archive.FlushInterval < 0 {
			return fmt.Errorf("archive flush_interval must not be negative, got %s", c.Archive.FlushInterval)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}
