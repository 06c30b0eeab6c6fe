// Package token mints the random identifiers handed out for transfers:
// 16-character link tokens and 4-character pickup codes.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Alphabet is the set every identifier is drawn from.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	LinkLength   = 16
	PickupLength = 4
)

// Bytes at or above this value are rejected so that b % len(Alphabet)
// stays uniform.
const rejectAbove = 256 - 256%len(Alphabet)

var ErrInvalidLength = errors.New("token length must be positive")

// Generator draws identifiers from a randomness source. The zero value is
// not usable; call NewGenerator.
type Generator struct {
	src io.Reader
}

// NewGenerator returns a generator reading from src, or from crypto/rand
// when src is nil.
func NewGenerator(src io.Reader) *Generator {
	if src == nil {
		src = rand.Reader
	}
	return &Generator{src: src}
}

// Default reads from crypto/rand and is safe for concurrent use.
var Default = NewGenerator(nil)

// New returns a random string of the given length from Alphabet.
// It performs no uniqueness check.
func (g *Generator) New(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := io.ReadFull(g.src, buf); err != nil {
			return "", fmt.Errorf("token: read random source: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Link mints a link token.
func (g *Generator) Link() (string, error) {
	return g.New(LinkLength)
}

// Pickup mints a pickup code.
func (g *Generator) Pickup() (string, error) {
	return g.New(PickupLength)
}

// New mints a string of the given length with the default generator.
func New(length int) (string, error) {
	return Default.New(length)
}

// Valid reports whether s has the given length and only Alphabet characters.
func Valid(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
