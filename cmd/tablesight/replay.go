package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/tablesight/internal/console"
	"github.com/lox/tablesight/internal/fileutil"
	"github.com/lox/tablesight/internal/fusion"
	"github.com/lox/tablesight/internal/handhistory"
	"github.com/lox/tablesight/internal/publisher"
)

// ReplayCmd feeds a recorded observation log through a fresh engine. Cycles
// follow the log's timestamps, so a log always replays the same way.
type ReplayCmd struct {
	File       string `arg:"" type:"existingfile" help:"JSON-lines observation log"`
	Quiet      bool   `short:"q" help:"Only print the summary"`
	Heartbeats bool   `help:"Print every heartbeat"`
	Snapshots  string `type:"path" help:"Write every published snapshot to this JSON-lines file"`
	Summary    string `type:"path" help:"Write the replay summary to this JSON file"`
	Archive    string `type:"path" help:"Archive closed hands as TOML into this directory"`
}

func (c *ReplayCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, closer, err := g.logger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	var monitors []publisher.Monitor
	var con *console.Console
	if !c.Quiet {
		con = console.New(g.out(), console.Options{Heartbeats: c.Heartbeats})
		monitors = append(monitors, con)
	}

	var lines *snapshotLines
	if c.Snapshots != "" {
		f, err := os.Create(c.Snapshots)
		if err != nil {
			return fmt.Errorf("create snapshot file: %w", err)
		}
		defer f.Close()
		lines = &snapshotLines{enc: json.NewEncoder(f), logger: logger}
		monitors = append(monitors, lines)
	}

	var archive *handhistory.Archive
	if c.Archive != "" {
		archive, err = handhistory.New(handhistory.Config{
			Dir:        c.Archive,
			Session:    "replay",
			FlushHands: cfg.Archive.FlushEvery,
		}, logger)
		if err != nil {
			return err
		}
		monitors = append(monitors, archive)
	}

	engine, err := fusion.New(cfg.Fusion,
		fusion.WithLogger(logger),
		fusion.WithMonitor(publisher.NewMultiMonitor(monitors...)))
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := engine.Replay(context.Background(), f)
	if err != nil {
		return err
	}
	if err := engine.Shutdown(true); err != nil {
		return err
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if lines != nil && lines.err != nil {
		return fmt.Errorf("write snapshots: %w", lines.err)
	}

	stats := engine.Stats()
	fmt.Fprintf(g.out(), "\nReplayed %d observations (%d skipped) in %d cycles: %d snapshots, %d hands closed\n",
		res.Observations, res.Skipped, res.Cycles, res.Snapshots, stats.Hands)

	if c.Summary != "" {
		summary := replaySummary{ReplayResult: res, Stats: stats}
		if err := fileutil.WriteJSONAtomic(c.Summary, summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

type replaySummary struct {
	fusion.ReplayResult
	Stats fusion.Stats `json:"stats"`
}

// snapshotLines encodes each snapshot as one JSON line. The first write
// error is kept and later snapshots are skipped.
type snapshotLines struct {
	publisher.NullMonitor

	mu     sync.Mutex
	enc    *json.Encoder
	logger *log.Logger
	err    error
}

func (s *snapshotLines) OnSnapshot(snap publisher.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if err := s.enc.Encode(snap); err != nil {
		s.err = err
		s.logger.Error("Failed to write snapshot", "version", snap.Version, "error", err)
	}
}
