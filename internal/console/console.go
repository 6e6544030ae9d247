// Package console prints phase transitions, closed hands and diagnostics to
// a terminal as they are published.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/publisher"
	"github.com/lox/tablesight/poker"
)

// Options controls console output
type Options struct {
	// Color forces coloured output on or off. Nil detects it from the writer.
	Color *bool
	// Heartbeats prints every heartbeat, not only trust changes.
	Heartbeats bool
}

type styles struct {
	header, dim, phase, pot lipgloss.Style
	ok, warn, bad, info     lipgloss.Style
	red, black              lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#626262")),
		phase:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#96CEB4")),
		pot:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700")),
		ok:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#96CEB4")),
		warn:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFEAA7")),
		bad:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		info:   r.NewStyle().Foreground(lipgloss.Color("#5DADE2")),
		red:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		black:  r.NewStyle().Bold(true),
	}
}

// Console is a publisher.Monitor writing a human readable log of the session
type Console struct {
	opts   Options
	styles styles

	mu      sync.Mutex
	w       io.Writer
	phase   handfsm.Phase
	trust   publisher.TrustLevel
	hands   uint64
	started time.Time
}

// New creates a console monitor writing to w, or stdout when w is nil
func New(w io.Writer, opts Options) *Console {
	if w == nil {
		w = os.Stdout
	}
	r := lipgloss.NewRenderer(w)
	if opts.Color != nil {
		if *opts.Color {
			r.SetColorProfile(termenv.TrueColor)
		} else {
			r.SetColorProfile(termenv.Ascii)
		}
	}
	return &Console{opts: opts, styles: newStyles(r), w: w}
}

// OnSnapshot prints transitions, trust changes and the final snapshot
func (c *Console) OnSnapshot(snap publisher.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		c.started = snap.PublishedAt
	}

	trustChanged := snap.Trust != c.trust
	c.trust = snap.Trust

	switch snap.Reason {
	case publisher.ReasonTransition:
		from := c.phase
		c.phase = snap.Hand.Phase
		fmt.Fprintf(c.w, "%s hand %d %s → %s %s pot %s %s\n",
			c.stamp(snap.PublishedAt),
			snap.Hand.HandID,
			c.styles.dim.Render(from.String()),
			c.styles.phase.Render(snap.Hand.Phase.String()),
			c.board(snap.Hand.CommunityCards),
			c.styles.pot.Render(formatAmount(snap.Hand.PotSize)),
			c.trustLabel(snap.Trust))
	case publisher.ReasonShutdown:
		fmt.Fprintf(c.w, "%s %s after %d hands, version %d %s\n",
			c.stamp(snap.PublishedAt),
			c.styles.header.Render("shutdown"),
			c.hands, snap.Version, c.trustLabel(snap.Trust))
	default:
		if c.opts.Heartbeats || trustChanged {
			fmt.Fprintf(c.w, "%s %s v%d %s %s\n",
				c.stamp(snap.PublishedAt),
				c.styles.dim.Render("heartbeat"),
				snap.Version, snap.Hand.Phase, c.trustLabel(snap.Trust))
		}
	}
}

// OnHandClosed prints a summary block for the hand
func (c *Console) OnHandClosed(hand handfsm.HandState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hands++
	c.phase = handfsm.WaitingForHand

	fmt.Fprintln(c.w)
	fmt.Fprintln(c.w, c.styles.header.Render(fmt.Sprintf("=== Hand #%d closed at %s ===", hand.HandID, hand.Phase)))
	fmt.Fprintf(c.w, "Board: %s\n", c.board(hand.CommunityCards))

	for _, p := range hand.Players {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("seat %d", p.Position)
		}
		hole := p.VisibleHoleCards()
		line := fmt.Sprintf("  %-12s %s stack %s", name, c.cards(hole), formatAmount(p.StackSize))
		if len(hole) == 2 {
			line += " " + c.styles.dim.Render(string(poker.Category(hole)))
		}
		if !p.IsActive {
			line = c.styles.dim.Render(line + " (out)")
		}
		fmt.Fprintln(c.w, line)
	}

	summary := fmt.Sprintf("Pot: %s", c.styles.pot.Render(formatAmount(hand.PotSize)))
	if hand.HandStrength != "" {
		summary += " | " + hand.HandStrength
	}
	if !hand.StartedAt.IsZero() && !hand.ClosedAt.IsZero() {
		summary += " | " + hand.ClosedAt.Sub(hand.StartedAt).Round(100*time.Millisecond).String()
	}
	fmt.Fprintln(c.w, summary)
	fmt.Fprintln(c.w, c.styles.dim.Render("────────────────────────────────────────"))
}

// OnDiagnostic prints the event with a severity colour
func (c *Console) OnDiagnostic(d publisher.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()

	style := c.styles.warn
	switch d.Code {
	case publisher.DiagLost, publisher.DiagPotDecrease:
		style = c.styles.bad
	case publisher.DiagRecovered:
		style = c.styles.ok
	case publisher.DiagPhaseSkip:
		style = c.styles.info
	}
	line := fmt.Sprintf("%s %s %s", c.stamp(d.At), style.Render("! "+d.Code), d.Message)
	if d.Field != "" {
		line += " " + c.styles.dim.Render("("+d.Field+")")
	}
	fmt.Fprintln(c.w, line)
}

// Hands returns how many closed hands were printed
func (c *Console) Hands() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hands
}

func (c *Console) stamp(t time.Time) string {
	if c.started.IsZero() || t.IsZero() {
		return c.styles.dim.Render("[--:--.-]")
	}
	return c.styles.dim.Render(fmt.Sprintf("[%s]", formatElapsed(t.Sub(c.started))))
}

func (c *Console) trustLabel(t publisher.TrustLevel) string {
	switch t {
	case publisher.TrustOK:
		return c.styles.ok.Render(t.String())
	case publisher.TrustDegraded:
		return c.styles.warn.Render(t.String())
	default:
		return c.styles.bad.Render(t.String())
	}
}

// board renders community cards with the turn and river set apart
func (c *Console) board(cards []poker.Card) string {
	if len(cards) == 0 {
		return c.styles.dim.Render("[]")
	}
	parts := make([]string, len(cards))
	for i, card := range cards {
		parts[i] = c.card(card)
	}
	out := strings.Join(parts[:min(3, len(parts))], " ")
	for _, p := range parts[min(3, len(parts)):] {
		out += " | " + p
	}
	return "[" + out + "]"
}

func (c *Console) cards(cards []poker.Card) string {
	if len(cards) == 0 {
		return c.styles.dim.Render("--")
	}
	parts := make([]string, len(cards))
	for i, card := range cards {
		parts[i] = c.card(card)
	}
	return strings.Join(parts, " ")
}

func (c *Console) card(card poker.Card) string {
	if card.Suit.IsRed() {
		return c.styles.red.Render(card.String())
	}
	return c.styles.black.Render(card.String())
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func formatElapsed(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	m := int(d / time.Minute)
	s := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%04.1f", m, s)
}
