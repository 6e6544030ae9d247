package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lox/tablesight/internal/handhistory"
	"github.com/lox/tablesight/internal/storage"
)

// HandsCmd lists closed hands from storage or from a hand archive file
type HandsCmd struct {
	DSN     string `name:"dsn" env:"TABLESIGHT_DSN" help:"Storage DSN (defaults to the configured one)"`
	Session string `help:"Only list hands from this session"`
	Limit   int    `default:"20" help:"Maximum number of hands to list"`
	Archive string `type:"existingfile" help:"Read hands from a TOML archive file instead of storage"`
	JSON    bool   `help:"Print hands as JSON"`
}

// handRow is the listing form shared by both sources
type handRow struct {
	Session      string    `json:"session"`
	HandID       uint64    `json:"hand_id"`
	ClosedAt     time.Time `json:"closed_at"`
	Phase        string    `json:"phase"`
	Pot          float64   `json:"pot"`
	Board        string    `json:"board"`
	HandStrength string    `json:"hand_strength,omitempty"`
}

func (c *HandsCmd) Run(g *Globals) error {
	var (
		rows []handRow
		err  error
	)
	if c.Archive != "" {
		rows, err = c.fromArchive()
	} else {
		rows, err = c.fromStorage(g)
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(g.out(), "No hands recorded")
		return nil
	}
	fmt.Fprintln(g.out(), renderHands(rows))
	return nil
}

func (c *HandsCmd) fromStorage(g *Globals) ([]handRow, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	logger, closer, err := g.logger(cfg)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	dsn := c.DSN
	if dsn == "" {
		dsn = cfg.Storage.DSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("no storage configured, pass --dsn or --archive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.Open(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	hands, err := store.Hands(ctx, storage.HandFilter{Session: c.Session, Limit: c.Limit})
	if err != nil {
		return nil, err
	}
	rows := make([]handRow, 0, len(hands))
	for _, h := range hands {
		rows = append(rows, handRow{
			Session:      h.Session,
			HandID:       h.HandID,
			ClosedAt:     h.ClosedAt,
			Phase:        h.Phase.String(),
			Pot:          h.Pot,
			Board:        h.Board,
			HandStrength: h.HandStrength,
		})
	}
	return rows, nil
}

// fromArchive lists archived hands newest first, like the store does
func (c *HandsCmd) fromArchive() ([]handRow, error) {
	records, err := handhistory.Read(c.Archive)
	if err != nil {
		return nil, err
	}
	var rows []handRow
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if c.Session != "" && r.Session != c.Session {
			continue
		}
		rows = append(rows, handRow{
			Session:      r.Session,
			HandID:       r.HandID,
			ClosedAt:     r.ClosedAt,
			Phase:        r.Phase,
			Pot:          r.Pot,
			Board:        strings.Join(r.Board, " "),
			HandStrength: r.HandStrength,
		})
		if c.Limit > 0 && len(rows) == c.Limit {
			break
		}
	}
	return rows, nil
}

func renderHands(rows []handRow) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HAND", "SESSION", "CLOSED", "PHASE", "POT", "BOARD", "STRENGTH").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, r := range rows {
		t.Row(
			fmt.Sprintf("%d", r.HandID),
			r.Session,
			r.ClosedAt.Local().Format("2006-01-02 15:04:05"),
			r.Phase,
			fmt.Sprintf("%g", r.Pot),
			r.Board,
			r.HandStrength,
		)
	}
	return t.String()
}
