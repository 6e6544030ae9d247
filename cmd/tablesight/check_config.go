package main

import (
	"fmt"
	"text/tabwriter"
)

// CheckConfigCmd validates the configuration and prints the values in effect
type CheckConfigCmd struct{}

func (c *CheckConfigCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(g.out(), 0, 0, 2, ' ', 0)
	f := cfg.Fusion
	rows := []struct {
		key   string
		value any
	}{
		{"fusion.confidence_floor", f.ConfidenceFloor},
		{"fusion.smoothing_alpha", f.SmoothingAlpha},
		{"fusion.vote_window_size", f.VoteWindowSize},
		{"fusion.vote_window", f.VoteWindow},
		{"fusion.debounce_count", f.DebounceCount},
		{"fusion.stale_miss_threshold", f.StaleMissThreshold},
		{"fusion.stale_decay", f.StaleDecay},
		{"fusion.publish_threshold", f.PublishThreshold},
		{"fusion.quiet_period", f.QuietPeriod},
		{"fusion.hand_timeout", f.HandTimeout},
		{"fusion.heartbeat_interval", f.HeartbeatInterval},
		{"fusion.cycle_interval", f.CycleInterval},
		{"fusion.queue_size", f.QueueSize},
		{"fusion.drain_on_shutdown", f.DrainOnShutdown},
		{"server.addr", cfg.Server.Addr()},
		{"server.subscriber_buffer", cfg.Server.SubscriberBuffer},
		{"server.observation_log", cfg.Server.ObservationLog},
		{"storage.dsn", cfg.Storage.DSN},
		{"storage.record_snapshots", cfg.Storage.RecordSnapshots},
		{"storage.snapshot_file", cfg.Storage.SnapshotFile},
		{"archive.enabled", cfg.Archive.Enabled},
		{"archive.dir", cfg.Archive.Dir},
		{"archive.flush_every", cfg.Archive.FlushEvery},
		{"archive.flush_interval", cfg.Archive.FlushInterval},
		{"logging.level", cfg.Logging.Level},
		{"logging.format", cfg.Logging.Format},
		{"logging.file", cfg.Logging.File},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%v\n", r.key, r.value)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(g.out(), "\n%s is valid\n", g.Config)
	return nil
}
