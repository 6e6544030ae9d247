package smoother

import (
	"math"
	"strconv"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/observation"
)

// snapDistance is how close the blended value must get to the latest raw
// reading before it is reported as exactly that reading.
const snapDistance = 0.5

// Numeric smooths stacks, bets, pot and timer with confidence-weighted
// exponential blending: new = old*(1-α·c) + raw*(α·c).
type Numeric struct {
	floor float64
	alpha float64

	value float64
	est   Estimate
	keys  keyRing
	stale staleness
}

// NewNumeric creates a numeric smoother
func NewNumeric(cfg config.Fusion) *Numeric {
	return &Numeric{
		floor: cfg.ConfidenceFloor,
		alpha: cfg.SmoothingAlpha,
		stale: staleness{threshold: cfg.StaleMissThreshold, decay: cfg.StaleDecay},
	}
}

// Ingest blends an observation into the estimate
func (n *Numeric) Ingest(obs observation.Observation) bool {
	if obs.Confidence < n.floor {
		return false
	}
	key := obs.Key()
	if n.keys.seen(key) {
		return false
	}
	n.keys.add(key)

	raw := obs.Number()
	if raw < 0 {
		// Amounts are never negative. The reading is kept only as LastRaw so
		// the validator can flag it.
		n.est.LastRaw = obs.Value
		n.stale.touch(&n.est)
		return true
	}
	if !n.est.Known || n.est.Stale {
		n.value = raw
		n.est.Confidence = obs.Confidence
	} else {
		w := n.alpha * obs.Confidence
		n.value = n.value*(1-w) + raw*w
		n.est.Confidence = n.est.Confidence*(1-w) + obs.Confidence*w
	}
	if math.Abs(n.value-raw) < snapDistance {
		n.value = raw
	}

	n.est.Number = math.Round(n.value*100) / 100
	n.est.Value = strconv.FormatFloat(n.est.Number, 'f', -1, 64)
	n.est.LastRaw = obs.Value
	n.est.LastUpdatedAt = obs.ObservedAt
	n.est.Known = true
	n.stale.touch(&n.est)
	return true
}

// Tick advances the staleness model by one cycle
func (n *Numeric) Tick() { n.stale.tick(&n.est) }

// Estimate returns a copy of the current estimate
func (n *Numeric) Estimate() Estimate { return n.est }

// Reset forgets all history
func (n *Numeric) Reset() {
	n.value = 0
	n.est = Estimate{}
	n.keys.reset()
	n.stale.fresh = false
}
