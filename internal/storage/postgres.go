package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore keeps snapshots and hands in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveSnapshot stores a snapshot. Saving the same version twice is a no-op.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, session string, snap publisher.Snapshot) error {
	payload, err := encodeState(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshots (session_id, version, published_at, reason, hand_id, phase, trust_level, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, version) DO NOTHING`,
		session, int64(snap.Version), snap.PublishedAt, string(snap.Reason),
		int64(snap.Hand.HandID), snap.Hand.Phase.String(), snap.Trust.String(), payload)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.Version, err)
	}
	return nil
}

// SaveHand stores a closed hand, replacing an earlier record of the same hand
func (s *PostgresStore) SaveHand(ctx context.Context, session string, hand handfsm.HandState) error {
	state, err := encodeState(hand)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO hands (session_id, hand_id, started_at, closed_at, phase, pot, board, hand_strength, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, hand_id) DO UPDATE SET
			closed_at = EXCLUDED.closed_at,
			phase = EXCLUDED.phase,
			pot = EXCLUDED.pot,
			board = EXCLUDED.board,
			hand_strength = EXCLUDED.hand_strength,
			state = EXCLUDED.state`,
		session, int64(hand.HandID), hand.StartedAt, hand.ClosedAt, hand.Phase.String(),
		hand.PotSize, boardText(hand.CommunityCards), hand.HandStrength, state)
	if err != nil {
		return fmt.Errorf("insert hand %d: %w", hand.HandID, err)
	}
	return nil
}

// Hands lists recorded hands, newest first
func (s *PostgresStore) Hands(ctx context.Context, filter HandFilter) ([]HandRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, hand_id, started_at, closed_at, phase, pot, board, hand_strength, state
		  FROM hands
		 WHERE $1 = '' OR session_id = $1
		 ORDER BY closed_at DESC, hand_id DESC
		 LIMIT $2`,
		filter.Session, limitOf(filter))
	if err != nil {
		return nil, fmt.Errorf("query hands: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HandRecord, error) {
		var (
			rec   HandRecord
			id    int64
			phase string
			state []byte
		)
		if err := row.Scan(&rec.Session, &id, &rec.StartedAt, &rec.ClosedAt, &phase,
			&rec.Pot, &rec.Board, &rec.HandStrength, &state); err != nil {
			return rec, fmt.Errorf("scan hand: %w", err)
		}
		rec.HandID = uint64(id)
		if err := rec.Phase.UnmarshalText([]byte(phase)); err != nil {
			return rec, err
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return rec, fmt.Errorf("decode hand %d: %w", rec.HandID, err)
		}
		return rec, nil
	})
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
