package fusion

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/lox/tablesight/internal/handfsm"
	"github.com/lox/tablesight/internal/observation"
	"github.com/lox/tablesight/internal/publisher"
	"github.com/lox/tablesight/internal/validator"
)

// trustLevel grades the state about to be published. Staleness only counts
// against trust for the fields a hand cannot be followed without.
func (e *Engine) trustLevel(view *validator.View, report validator.Report) publisher.TrustLevel {
	if e.machine.Lost() {
		return publisher.TrustLost
	}
	if report.Degraded() {
		return publisher.TrustDegraded
	}
	phase := e.machine.Phase()
	if !phase.InHand() {
		return publisher.TrustOK
	}
	if view.Pot.Known && view.Pot.Stale {
		return publisher.TrustDegraded
	}
	for i := 0; i < phase.BoardSize(); i++ {
		if view.Board[i].Stale {
			return publisher.TrustDegraded
		}
	}
	return publisher.TrustOK
}

func (e *Engine) fieldStatuses(report validator.Report) map[string]publisher.FieldStatus {
	out := make(map[string]publisher.FieldStatus)
	for f, est := range e.bank.Estimates() {
		note, contested := report.Contested[f]
		if !est.Known && !contested {
			continue
		}
		status := publisher.StatusOK
		switch {
		case contested:
			status = publisher.StatusContested
		case est.Stale:
			status = publisher.StatusStale
		}
		out[f.String()] = publisher.FieldStatus{
			Value:      est.Value,
			Confidence: est.Confidence,
			Status:     status,
			Misses:     est.ConsecutiveMisses,
			Note:       note,
		}
	}
	return out
}

// collectDiagnostics raises each condition once, when it first appears.
func (e *Engine) collectDiagnostics(report validator.Report, res handfsm.Result, now time.Time) {
	handID := e.machine.HandID()

	fields := slices.SortedFunc(maps.Keys(report.Contested), func(a, b observation.FieldID) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, f := range fields {
		if _, seen := e.contested[f]; seen {
			continue
		}
		e.diagnose(publisher.Diagnostic{
			Code:    publisher.DiagContested,
			Message: report.Contested[f],
			Field:   f.String(),
			HandID:  handID,
			At:      now,
		})
	}
	e.contested = maps.Clone(report.Contested)

	if report.PotDecrease && !e.potFlagged {
		e.diagnose(publisher.Diagnostic{
			Code:    publisher.DiagPotDecrease,
			Message: "pot decreased within a betting round",
			Field:   observation.PotSize.String(),
			HandID:  handID,
			At:      now,
		})
	}
	e.potFlagged = report.PotDecrease

	artifact := len(report.Rejected) > 0
	if artifact && !e.artifact {
		e.diagnose(publisher.Diagnostic{
			Code:    publisher.DiagBoardArtifact,
			Message: "ignored " + strings.Join(report.Rejected, ", "),
			HandID:  handID,
			At:      now,
		})
	}
	e.artifact = artifact

	if res.LostChanged {
		d := publisher.Diagnostic{HandID: handID, At: now}
		if e.machine.Lost() {
			d.Code = publisher.DiagLost
			d.Message = fmt.Sprintf("no progress for %s", e.cfg.HandTimeout)
			e.logger.Warn("Lost track of hand", "hand", handID, "phase", e.machine.Phase())
		} else {
			d.Code = publisher.DiagRecovered
			d.Message = "hand progress resumed"
			e.logger.Info("Recovered hand tracking", "hand", handID, "phase", e.machine.Phase())
		}
		e.diagnose(d)
	}

	if dropped := e.queue.Dropped(); dropped > e.lastDropped {
		e.diagnose(publisher.Diagnostic{
			Code:    publisher.DiagQueueOverflow,
			Message: fmt.Sprintf("%d observations dropped", dropped-e.lastDropped),
			HandID:  handID,
			At:      now,
		})
		e.logger.Warn("Observation queue overflowed", "dropped", dropped-e.lastDropped)
		e.lastDropped = dropped
	}
}
