package smoother

import (
	"slices"

	"github.com/lox/tablesight/internal/config"
	"github.com/lox/tablesight/internal/observation"
)

// Bank owns one smoother per field of the closed field set. It is confined
// to the fusion goroutine and is not safe for concurrent use.
type Bank struct {
	fields  map[observation.FieldID]Smoother
	order   []observation.FieldID
	changed map[observation.FieldID]struct{}

	accepted uint64
	rejected uint64
}

// NewBank creates smoothers for every known field
func NewBank(cfg config.Fusion) *Bank {
	order := observation.AllFields()
	b := &Bank{
		fields:  make(map[observation.FieldID]Smoother, len(order)),
		order:   order,
		changed: make(map[observation.FieldID]struct{}),
	}
	for _, f := range order {
		b.fields[f] = New(f, cfg)
	}
	return b
}

// Ingest routes an observation to its field. It reports whether the
// observation was accepted by the smoother.
func (b *Bank) Ingest(obs observation.Observation) bool {
	s, ok := b.fields[obs.Field]
	if !ok {
		b.rejected++
		return false
	}

	before := s.Estimate()
	if !s.Ingest(obs) {
		b.rejected++
		return false
	}
	b.accepted++

	after := s.Estimate()
	if after.Known != before.Known || after.Value != before.Value {
		b.changed[obs.Field] = struct{}{}
	}
	return true
}

// Tick ends the cycle for every field
func (b *Bank) Tick() {
	for _, f := range b.order {
		b.fields[f].Tick()
	}
}

// Estimate returns the estimate of a field. Unknown fields yield the zero Estimate.
func (b *Bank) Estimate(f observation.FieldID) Estimate {
	if s, ok := b.fields[f]; ok {
		return s.Estimate()
	}
	return Estimate{}
}

// Estimates returns a copy of every estimate keyed by field
func (b *Bank) Estimates() map[observation.FieldID]Estimate {
	out := make(map[observation.FieldID]Estimate, len(b.fields))
	for f, s := range b.fields {
		out[f] = s.Estimate()
	}
	return out
}

// TakeChanged returns the fields whose reported value changed since the
// last call, in field order, and clears the set.
func (b *Bank) TakeChanged() []observation.FieldID {
	if len(b.changed) == 0 {
		return nil
	}
	out := make([]observation.FieldID, 0, len(b.changed))
	for _, f := range b.order {
		if _, ok := b.changed[f]; ok {
			out = append(out, f)
		}
	}
	clear(b.changed)
	return out
}

// Reset clears every field for which match returns true and returns them.
// A nil predicate resets all hand-scoped fields.
func (b *Bank) Reset(match func(observation.FieldID) bool) []observation.FieldID {
	if match == nil {
		match = func(f observation.FieldID) bool { return f.Kind.IsHandScoped() }
	}
	var reset []observation.FieldID
	for _, f := range b.order {
		if !match(f) {
			continue
		}
		s := b.fields[f]
		if s.Estimate().Known {
			b.changed[f] = struct{}{}
		}
		s.Reset()
		reset = append(reset, f)
	}
	return reset
}

// ResetFields clears the listed fields
func (b *Bank) ResetFields(fields ...observation.FieldID) {
	b.Reset(func(f observation.FieldID) bool { return slices.Contains(fields, f) })
}

// Accepted returns how many observations were accepted
func (b *Bank) Accepted() uint64 { return b.accepted }

// Rejected returns how many observations were below the floor or duplicates
func (b *Bank) Rejected() uint64 { return b.rejected }
