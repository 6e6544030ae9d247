package smoother

import (
	"time"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/observation"
)

type vote struct {
	value string
	conf  float64
	at    time.Time
}

// Discrete decides categorical fields (cards, names, flags) by a
// confidence-weighted majority vote over a sliding window. The reported value
// is seeded by the first accepted observation and afterwards only changes
// once a challenger has out-voted the incumbent for DebounceCount
// consecutive observations.
type Discrete struct {
	floor    float64
	size     int
	span     time.Duration
	debounce int

	window     []vote
	challenger string
	streak     int

	est   Estimate
	keys  keyRing
	stale staleness
}

// NewDiscrete creates a discrete smoother
func NewDiscrete(cfg config.Fusion) *Discrete {
	return &Discrete{
		floor:    cfg.ConfidenceFloor,
		size:     cfg.VoteWindowSize,
		span:     cfg.VoteWindow,
		debounce: cfg.DebounceCount,
		window:   make([]vote, 0, cfg.VoteWindowSize),
		stale:    staleness{threshold: cfg.StaleMissThreshold, decay: cfg.StaleDecay},
	}
}

// Ingest adds an observation to the vote window
func (d *Discrete) Ingest(obs observation.Observation) bool {
	if obs.Confidence < d.floor {
		return false
	}
	key := obs.Key()
	if d.keys.seen(key) {
		return false
	}
	d.keys.add(key)

	d.push(vote{value: obs.Value, conf: obs.Confidence, at: obs.ObservedAt})
	tally := d.tally()

	leader, best := "", -1.0
	for _, v := range d.window {
		// Iterating the window keeps ties deterministic: the earliest value wins.
		if tally[v.value] > best {
			leader, best = v.value, tally[v.value]
		}
	}

	switch {
	case !d.est.Known:
		// Nothing to flicker away from yet.
		d.est.Value = leader
		d.est.Known = true
		d.challenger, d.streak = "", 0
	case leader != d.est.Value && best > tally[d.est.Value]:
		if leader == d.challenger {
			d.streak++
		} else {
			d.challenger, d.streak = leader, 1
		}
		if d.streak >= d.debounce {
			d.est.Value = leader
			d.challenger, d.streak = "", 0
		}
	default:
		d.challenger, d.streak = "", 0
	}

	if d.est.Known {
		d.est.Confidence = tally[d.est.Value] / float64(len(d.window))
		if obs.Value == d.est.Value {
			d.est.LastUpdatedAt = obs.ObservedAt
		}
	}
	d.est.LastRaw = obs.Value
	d.stale.touch(&d.est)
	return true
}

// push appends a vote, evicting votes beyond the window size or older than
// the window duration measured from the newest vote.
func (d *Discrete) push(v vote) {
	d.window = append(d.window, v)
	newest := v.at
	for _, w := range d.window {
		if w.at.After(newest) {
			newest = w.at
		}
	}

	kept := d.window[:0]
	for _, w := range d.window {
		if newest.Sub(w.at) <= d.span {
			kept = append(kept, w)
		}
	}
	d.window = kept
	if over := len(d.window) - d.size; over > 0 {
		d.window = append(d.window[:0], d.window[over:]...)
	}
}

func (d *Discrete) tally() map[string]float64 {
	tally := make(map[string]float64, len(d.window))
	for _, v := range d.window {
		tally[v.value] += v.conf
	}
	return tally
}

// Tick advances the staleness model by one cycle
func (d *Discrete) Tick() { d.stale.tick(&d.est) }

// Estimate returns a copy of the current estimate
func (d *Discrete) Estimate() Estimate { return d.est }

// Reset forgets all history
func (d *Discrete) Reset() {
	d.window = d.window[:0]
	d.challenger, d.streak = "", 0
	d.est = Estimate{}
	d.keys.reset()
	d.stale.fresh = false
}
