package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore keeps snapshots and hands in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveSnapshot stores a snapshot. Saving the same version twice is a no-op.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, session string, snap publisher.Snapshot) error {
	payload, err := encodeState(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, version, published_at, reason, hand_id, phase, trust_level, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, version) DO NOTHING`,
		session, snap.Version, toMillis(snap.PublishedAt), string(snap.Reason),
		snap.Hand.HandID, snap.Hand.Phase.String(), snap.Trust.String(), string(payload))
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.Version, err)
	}
	return nil
}

// SaveHand stores a closed hand, replacing an earlier record of the same hand
func (s *SQLiteStore) SaveHand(ctx context.Context, session string, hand handfsm.HandState) error {
	state, err := encodeState(hand)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hands (session_id, hand_id, started_at, closed_at, phase, pot, board, hand_strength, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, hand_id) DO UPDATE SET
			closed_at = excluded.closed_at,
			phase = excluded.phase,
			pot = excluded.pot,
			board = excluded.board,
			hand_strength = excluded.hand_strength,
			state = excluded.state`,
		session, hand.HandID, toMillis(hand.StartedAt), toMillis(hand.ClosedAt), hand.Phase.String(),
		hand.PotSize, boardText(hand.CommunityCards), hand.HandStrength, string(state))
	if err != nil {
		return fmt.Errorf("insert hand %d: %w", hand.HandID, err)
	}
	return nil
}

// Hands lists recorded hands, newest first
func (s *SQLiteStore) Hands(ctx context.Context, filter HandFilter) ([]HandRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, hand_id, started_at, closed_at, phase, pot, board, hand_strength, state
		  FROM hands
		 WHERE ? = '' OR session_id = ?
		 ORDER BY closed_at DESC, hand_id DESC
		 LIMIT ?`,
		filter.Session, filter.Session, limitOf(filter))
	if err != nil {
		return nil, fmt.Errorf("query hands: %w", err)
	}
	defer rows.Close()

	var out []HandRecord
	for rows.Next() {
		var (
			rec              HandRecord
			started, closed  int64
			phase, stateJSON string
		)
		if err := rows.Scan(&rec.Session, &rec.HandID, &started, &closed, &phase,
			&rec.Pot, &rec.Board, &rec.HandStrength, &stateJSON); err != nil {
			return nil, fmt.Errorf("scan hand: %w", err)
		}
		rec.StartedAt, rec.ClosedAt = fromMillis(started), fromMillis(closed)
		if err := rec.Phase.UnmarshalText([]byte(phase)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
			return nil, fmt.Errorf("decode hand %d: %w", rec.HandID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
