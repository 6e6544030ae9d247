// Package sessionid generates sortable identifiers for capture sessions.
//
// An identifier is a UUIDv7 written as 26 characters of Crockford base32, so
// identifiers created later sort after earlier ones.
package sessionid

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

const (
	alphabet = "0123456789abcdefghjkmnpqrstvwxyz"
	length   = 26
)

// Generator creates session identifiers
type Generator struct {
	clock quartz.Clock
	rand  io.Reader
}

// NewGenerator creates a generator. A nil rand uses crypto/rand.
func NewGenerator(clock quartz.Clock, rand io.Reader) *Generator {
	return &Generator{clock: clock, rand: rand}
}

// Generate returns a new identifier stamped with the current time
func (g *Generator) Generate() (string, error) {
	var id [16]byte

	ms := g.clock.Now().UnixMilli()
	for i := 0; i < 6; i++ {
		id[i] = byte(ms >> (40 - 8*i))
	}

	r := g.rand
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, id[6:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	id[6] = (id[6] & 0x0f) | 0x70
	id[8] = (id[8] & 0x3f) | 0x80

	return encode(id), nil
}

// Parse decodes an identifier back into its UUID
func Parse(s string) (uuid.UUID, error) {
	if len(s) != length {
		return uuid.Nil, fmt.Errorf("session id must be %d characters, got %d", length, len(s))
	}
	if s[0] > '7' {
		return uuid.Nil, fmt.Errorf("session id first character must be 0-7, got %c", s[0])
	}

	var id uuid.UUID
	for i := 0; i < length; i++ {
		v := strings.IndexByte(alphabet, s[i])
		if v < 0 {
			return uuid.Nil, fmt.Errorf("invalid character %c at position %d", s[i], i)
		}
		for j := 0; j < 5; j++ {
			k := i*5 + j - 2
			if k >= 0 && v&(1<<(4-j)) != 0 {
				id[k/8] |= 1 << (7 - k%8)
			}
		}
	}
	if id.Version() != 7 || id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("session id is not a version 7 uuid")
	}
	return id, nil
}

// Validate reports whether s is a well-formed identifier
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// Timestamp returns the creation time embedded in an identifier, at
// millisecond precision
func Timestamp(s string) (time.Time, error) {
	id, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	var ms int64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | int64(id[i])
	}
	return time.UnixMilli(ms), nil
}

// encode writes the 128 bits as a 130-bit base32 number with two leading
// zero bits, so the first character is always 0-7.
func encode(id [16]byte) string {
	out := make([]byte, length)
	for i := range out {
		var v byte
		for j := 0; j < 5; j++ {
			v <<= 1
			if k := i*5 + j - 2; k >= 0 {
				v |= (id[k/8] >> (7 - k%8)) & 1
			}
		}
		out[i] = alphabet[v]
	}
	return string(out)
}
