package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lox/tablesight/internal/observation"
)

// Run is the consumer loop. It cycles every CycleInterval and publishes a
// heartbeat every HeartbeatInterval until ctx is cancelled or the engine is
// shut down.
func (e *Engine) Run(ctx context.Context) error {
	cycle := e.clock.NewTicker(e.cfg.CycleInterval, "fusion", "cycle")
	defer cycle.Stop()
	heartbeat := e.clock.NewTicker(e.cfg.HeartbeatInterval, "fusion", "heartbeat")
	defer heartbeat.Stop()

	e.logger.Info("Engine running", "cycle", e.cfg.CycleInterval, "heartbeat", e.cfg.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-cycle.C:
			e.Cycle()
		case <-heartbeat.C:
			if _, err := e.Heartbeat(); errors.Is(err, ErrClosed) {
				return nil
			}
		}
	}
}

// ReplayResult summarises a replayed observation log
type ReplayResult struct {
	Observations int `json:"observations"`
	Skipped      int `json:"skipped"`
	Cycles       int `json:"cycles"`
	Snapshots    int `json:"snapshots"`
}

// Replay feeds a recorded observation log through the engine. Cycles and
// heartbeats run on the log's own timestamps rather than the engine clock,
// so the same log always produces the same snapshots. Idle gaps longer than
// the staleness and hand timeouts are collapsed once nothing more can change.
func (e *Engine) Replay(ctx context.Context, r io.Reader) (ReplayResult, error) {
	var (
		res       ReplayResult
		next      time.Time
		lastBeat  time.Time
		maxIdle   = int(e.cfg.HandTimeout/e.cfg.CycleInterval) + e.cfg.StaleMissThreshold + 2
		cycleStep = e.cfg.CycleInterval
	)

	runUntil := func(t time.Time) {
		for idle := 0; !next.IsZero() && !t.Before(next); idle++ {
			if idle == maxIdle {
				skipped := t.Sub(next) / cycleStep
				next = next.Add(skipped * cycleStep)
			}
			res.Snapshots += len(e.cycleAt(next))
			res.Cycles++
			if next.Sub(lastBeat) >= e.cfg.HeartbeatInterval {
				if _, err := e.heartbeatAt(next); err == nil {
					res.Snapshots++
				}
				lastBeat = next
			}
			next = next.Add(cycleStep)
		}
	}

	err := observation.ReadLog(r, func(obs observation.Observation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if next.IsZero() {
			next = obs.ObservedAt.Add(cycleStep)
			lastBeat = obs.ObservedAt
		}
		runUntil(obs.ObservedAt)
		if err := e.Submit(obs); err != nil {
			return err
		}
		res.Observations++
		return nil
	}, func(line int, err error) {
		res.Skipped++
		e.logger.Warn("Skipping observation", "line", line, "error", err)
	})
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}

	if !next.IsZero() {
		runUntil(next)
	}
	e.logger.Info("Replay finished", "observations", res.Observations, "skipped", res.Skipped,
		"cycles", res.Cycles, "snapshots", res.Snapshots)
	return res, nil
}
