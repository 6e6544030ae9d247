// Package smoother turns bursts of same-field observations into stable
// per-field estimates. Numeric fields are blended exponentially, discrete
// fields are decided by a debounced confidence-weighted vote.
package smoother

import (
	"time"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/observation"
)

// Estimate is the current best value of one field. It is returned by value;
// the smoother that produced it remains its only owner.
type Estimate struct {
	Value             string    `json:"value"`
	Number            float64   `json:"number,omitempty"`
	Confidence        float64   `json:"confidence"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
	ConsecutiveMisses int       `json:"consecutive_misses"`
	Stale             bool      `json:"stale,omitempty"`
	// Known is false until the field has produced a value, and again after Reset.
	Known bool `json:"known"`
	// LastRaw is the most recent accepted raw value, before smoothing.
	LastRaw string `json:"-"`
}

// Fresh reports whether the estimate has a value that is not stale
func (e Estimate) Fresh() bool {
	return e.Known && !e.Stale
}

// Smoother filters the observation stream of a single field
type Smoother interface {
	// Ingest offers an observation and reports whether it was accepted.
	Ingest(obs observation.Observation) bool
	// Tick ends a fusion cycle, advancing the staleness model.
	Tick()
	Estimate() Estimate
	Reset()
}

// New returns the smoother appropriate for the field kind
func New(field observation.FieldID, cfg config.Fusion) Smoother {
	if field.Kind.IsNumeric() {
		return NewNumeric(cfg)
	}
	return NewDiscrete(cfg)
}

// keyRing remembers the most recent observation keys for duplicate suppression.
type keyRing struct {
	keys [16]observation.Key
	next int
	n    int
}

func (r *keyRing) seen(k observation.Key) bool {
	for i := 0; i < r.n; i++ {
		if r.keys[i] == k {
			return true
		}
	}
	return false
}

func (r *keyRing) add(k observation.Key) {
	r.keys[r.next] = k
	r.next = (r.next + 1) % len(r.keys)
	if r.n < len(r.keys) {
		r.n++
	}
}

func (r *keyRing) reset() {
	*r = keyRing{}
}

// staleness holds the miss counting shared by both smoother kinds.
type staleness struct {
	threshold int
	decay     float64
	fresh     bool
}

func (s *staleness) touch(est *Estimate) {
	s.fresh = true
	est.ConsecutiveMisses = 0
	est.Stale = false
}

func (s *staleness) tick(est *Estimate) {
	if !est.Known {
		return
	}
	if s.fresh {
		s.fresh = false
		return
	}
	est.ConsecutiveMisses++
	if est.ConsecutiveMisses > s.threshold {
		est.Stale = true
		est.Confidence *= s.decay
	}
}
