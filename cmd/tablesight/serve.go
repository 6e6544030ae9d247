package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/tablesight/internal/console"
	"github.com/lox/tablesight/internal/feed"
	"github.com/lox/tablesight/internal/fusion"
	"github.com/lox/tablesight/internal/handhistory"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/publisher"
	"github.com/lox/tablesight/internal/sessionid"
	"github.com/lox/tablesight/internal/storage"
)

// ServeCmd runs the engine as a service
type ServeCmd struct {
	Addr    string `help:"Override the listen address (host:port)"`
	DSN     string `name:"dsn" env:"TABLESIGHT_DSN" help:"Override the storage DSN (postgres://... or a SQLite path)"`
	Session string `help:"Session id to record under (generated when empty)"`
	Console bool   `help:"Print transitions, closed hands and diagnostics to stdout"`
	Drain   *bool  `help:"Process queued observations on shutdown instead of discarding them"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, closer, err := g.logger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if c.Addr == "" {
		c.Addr = cfg.Server.Addr()
	}
	if c.DSN != "" {
		cfg.Storage.DSN = c.DSN
	}
	if c.Drain != nil {
		cfg.Fusion.DrainOnShutdown = *c.Drain
	}

	clock := quartz.NewReal()
	session := c.Session
	if session == "" {
		if session, err = sessionid.NewGenerator(clock, nil).Generate(); err != nil {
			return fmt.Errorf("generate session id: %w", err)
		}
	} else if err := sessionid.Validate(session); err != nil {
		return err
	}
	logger = logger.With("session", session)

	ctx, cancel := setupSignalHandler(logger)
	defer cancel()

	hub := feed.NewHub(cfg.Server.SubscriberBuffer)
	monitors := []publisher.Monitor{hub}

	var recorder *storage.Recorder
	if cfg.Storage.DSN != "" {
		store, err := storage.Open(ctx, cfg.Storage.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = storage.NewRecorder(store, session, storage.RecorderOptions{
			Snapshots:    cfg.Storage.RecordSnapshots,
			SnapshotFile: cfg.Storage.SnapshotFile,
		}, logger)
		monitors = append(monitors, recorder)
	}

	var archive *handhistory.Archive
	if cfg.Archive.Enabled {
		archive, err = handhistory.New(handhistory.Config{
			Dir:           cfg.Archive.Dir,
			Session:       session,
			FlushHands:    cfg.Archive.FlushEvery,
			FlushInterval: cfg.Archive.FlushInterval,
			Clock:         clock,
		}, logger)
		if err != nil {
			return err
		}
		monitors = append(monitors, archive)
	}

	if c.Console {
		monitors = append(monitors, console.New(os.Stdout, console.Options{}))
	}

	opts := []fusion.Option{
		fusion.WithClock(clock),
		fusion.WithLogger(logger),
		fusion.WithMonitor(publisher.NewMultiMonitor(monitors...)),
	}
	if path := cfg.Server.ObservationLog; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open observation log: %w", err)
		}
		defer f.Close()
		opts = append(opts, fusion.WithObservationLog(observation.NewLogWriter(f)))
	}

	engine, err := fusion.New(cfg.Fusion, opts...)
	if err != nil {
		return err
	}
	server := feed.NewServer(engine, hub, clock, logger)

	logger.Info("Starting tablesight",
		"addr", c.Addr,
		"storage", cfg.Storage.DSN != "",
		"archive", archive != nil,
		"cycle", cfg.Fusion.CycleInterval,
		"heartbeat", cfg.Fusion.HeartbeatInterval)

	// The recorders outlive the engine so the shutdown snapshot and the last
	// closed hand still reach them.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return engine.Run(gctx) })
	grp.Go(func() error { return server.Serve(gctx, c.Addr) })
	if recorder != nil {
		grp.Go(recorder.Run)
	}
	if archive != nil {
		grp.Go(func() error { return archive.Run(archiveCtx) })
	}
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "drain", cfg.Fusion.DrainOnShutdown)
		err := engine.Shutdown(cfg.Fusion.DrainOnShutdown)
		if recorder != nil {
			recorder.Close()
		}
		stopArchive()
		return err
	})

	err = grp.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := engine.Stats()
	logger.Info("Stopped", "hands", stats.Hands, "snapshots", stats.Snapshots, "dropped", stats.Dropped)
	return err
}
