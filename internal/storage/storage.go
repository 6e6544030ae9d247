// Package storage persists published snapshots and closed hands. SQLite is
// the default backend; a postgres:// DSN selects PostgreSQL.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
	"github.com/lox/tablesight/poker"
)

// Store records what the engine publishes
type Store interface {
	SaveSnapshot(ctx context.Context, session string, snap publisher.Snapshot) error
	SaveHand(ctx context.Context, session string, hand handfsm.HandState) error
	// Hands lists recorded hands, newest first.
	Hands(ctx context.Context, filter HandFilter) ([]HandRecord, error)
	Close() error
}

// HandFilter narrows a hand listing
type HandFilter struct {
	Session string
	Limit   int
}

// HandRecord is one stored closed hand
type HandRecord struct {
	Session      string            `json:"session"`
	HandID       uint64            `json:"hand_id"`
	StartedAt    time.Time         `json:"started_at"`
	ClosedAt     time.Time         `json:"closed_at"`
	Phase        handfsm.Phase     `json:"phase"`
	Pot          float64           `json:"pot"`
	Board        string            `json:"board"`
	HandStrength string            `json:"hand_strength,omitempty"`
	State        handfsm.HandState `json:"state"`
}

// Open connects to the store named by dsn and creates its schema
func Open(ctx context.Context, dsn string, logger *log.Logger) (Store, error) {
	logger = logger.WithPrefix("storage")
	switch driverFor(dsn) {
	case "postgres":
		logger.Info("Using PostgreSQL store")
		return OpenPostgres(ctx, dsn)
	default:
		logger.Info("Using SQLite store", "path", dsn)
		return OpenSQLite(ctx, dsn)
	}
}

func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func limitOf(f HandFilter) int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

func boardText(cards []poker.Card) string {
	labels := make([]string, len(cards))
	for i, c := range cards {
		labels[i] = c.Label()
	}
	return strings.Join(labels, " ")
}

func encodeState(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}
