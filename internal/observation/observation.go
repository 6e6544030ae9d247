// Package observation defines the typed envelope for a single perceptual
// fact produced by the vision pipeline, the closed set of fields those facts
// can describe, and the bounded queue that carries them into the engine.
package observation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lox/tablesight/poker"
)

// ErrInvalidObservation wraps every validation failure.
var ErrInvalidObservation = errors.New("invalid observation")

// EmptySlot is the normalised value of a card field observed to be empty.
const EmptySlot = ""

// Observation is one timestamped, confidence-scored fact about a single field.
// Observations are values and are never mutated after creation.
type Observation struct {
	Field      FieldID   `json:"field"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source,omitempty"`
}

// New builds a normalised observation. The returned error wraps
// ErrInvalidObservation when the input cannot be used.
func New(field FieldID, raw string, confidence float64, observedAt time.Time, source string) (Observation, error) {
	obs := Observation{
		Field:      field,
		Value:      raw,
		Confidence: confidence,
		ObservedAt: observedAt,
		Source:     source,
	}
	return obs.Normalize()
}

// Normalize validates the observation and rewrites Value into its canonical
// form for the field kind.
func (o Observation) Normalize() (Observation, error) {
	if !o.Field.Valid() {
		return o, fmt.Errorf("%w: %w: %+v", ErrInvalidObservation, ErrUnknownField, o.Field)
	}
	if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return o, fmt.Errorf("%w: confidence %v out of range for %s", ErrInvalidObservation, o.Confidence, o.Field)
	}
	if o.ObservedAt.IsZero() {
		return o, fmt.Errorf("%w: missing timestamp for %s", ErrInvalidObservation, o.Field)
	}

	value, err := normalizeValue(o.Field.Kind, o.Value)
	if err != nil {
		return o, fmt.Errorf("%w: %s: %w", ErrInvalidObservation, o.Field, err)
	}
	o.Value = value
	return o, nil
}

// Number returns the numeric value of a normalised numeric observation.
func (o Observation) Number() float64 {
	n, _ := strconv.ParseFloat(o.Value, 64)
	return n
}

// Key identifies an observation for duplicate suppression. Two submissions
// of the same detection event share a key.
type Key struct {
	Value      string
	Confidence float64
	ObservedAt int64
}

// Key returns the duplicate-suppression key of the observation
func (o Observation) Key() Key {
	return Key{Value: o.Value, Confidence: o.Confidence, ObservedAt: o.ObservedAt.UnixNano()}
}

func normalizeValue(kind FieldKind, raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case kind.IsCard():
		if raw == "" || raw == "-" || strings.EqualFold(raw, "empty") {
			return EmptySlot, nil
		}
		c, err := poker.ParseCard(raw)
		if err != nil {
			return "", err
		}
		return c.Label(), nil

	case kind.IsNumeric():
		n, err := ParseAmount(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}

	switch kind {
	case KindPlayerActive:
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return "", fmt.Errorf("not a boolean: %q", raw)
		}
		return strconv.FormatBool(b), nil

	case KindCurrentPlayer:
		if raw == "" || raw == "-" {
			return "", nil
		}
		p, err := strconv.Atoi(raw)
		if err != nil || !validPlayer(p) {
			return "", fmt.Errorf("not a seat: %q", raw)
		}
		return strconv.Itoa(p), nil

	case KindAvailableActions:
		return NormalizeActions(raw), nil
	}

	// Names and hand-strength text are free-form.
	return raw, nil
}

// ParseAmount parses OCR'd chip amounts such as "1,250", "$80" or "80.0".
func ParseAmount(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '€', '£', ' ', '_':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not an amount: %q", raw)
	}
	return n, nil
}

// NormalizeActions lower-cases, de-duplicates and sorts a comma separated
// list of action button labels.
func NormalizeActions(raw string) string {
	var actions []string
	for _, part := range strings.Split(raw, ",") {
		a := strings.ToLower(strings.TrimSpace(part))
		if a != "" && !slices.Contains(actions, a) {
			actions = append(actions, a)
		}
	}
	slices.Sort(actions)
	return strings.Join(actions, ",")
}
