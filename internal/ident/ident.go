package ident

import (
	"errors"
	"fmt"
)

// MaxBits is the widest identifier space supported.
const MaxBits = 64

var (
	// ErrInvalidBits is returned for identifier widths outside [1, MaxBits].
	ErrInvalidBits = errors.New("identifier width out of range")
	// ErrUnknownHash is returned when a hash family name is not recognised.
	ErrUnknownHash = errors.New("unknown hash family")
)

// ID is a position on the ring, always in [0, 2^m).
type ID uint64

// Space is an identifier space of 2^Bits positions.
// The zero value of Family is SHA1.
type Space struct {
	Bits   uint
	Family HashFamily
}

// NewSpace returns a validated identifier space.
func NewSpace(bits uint, family HashFamily) (Space, error) {
	s := Space{Bits: bits, Family: family}
	if err := s.Validate(); err != nil {
		return Space{}, err
	}
	return s, nil
}

// Validate checks the width and hash family.
func (s Space) Validate() error {
	if s.Bits < 1 || s.Bits > MaxBits {
		return fmt.Errorf("%w: %d bits", ErrInvalidBits, s.Bits)
	}
	if !s.Family.known() {
		return fmt.Errorf("%w: %d", ErrUnknownHash, int(s.Family))
	}
	return nil
}

// Mask returns 2^Bits - 1.
func (s Space) Mask() uint64 {
	if s.Bits >= MaxBits {
		return ^uint64(0)
	}
	return (uint64(1) << s.Bits) - 1
}

// Max returns the largest identifier in the space.
func (s Space) Max() ID {
	return ID(s.Mask())
}

// Valid reports whether id lies inside the space.
func (s Space) Valid(id ID) bool {
	return uint64(id) <= s.Mask()
}

// Add returns (id + delta) mod 2^Bits.
func (s Space) Add(id ID, delta uint64) ID {
	return ID((uint64(id) + delta) & s.Mask())
}

// Distance returns the clockwise distance from one identifier to another.
func (s Space) Distance(from, to ID) uint64 {
	return (uint64(to) - uint64(from)) & s.Mask()
}

// FingerStart returns (id + 2^i) mod 2^Bits, the start of the i-th finger.
func (s Space) FingerStart(id ID, i uint) ID {
	return s.Add(id, uint64(1)<<i)
}

// InRange reports whether x lies on the clockwise walk from lo to hi.
// The bounds are included according to inclusiveLo and inclusiveHi.
//
// When lo == hi the walk covers the whole ring: every x other than lo is
// inside, and lo itself is inside if either bound is inclusive.
func (s Space) InRange(x, lo, hi ID, inclusiveLo, inclusiveHi bool) bool {
	x, lo, hi = x&ID(s.Mask()), lo&ID(s.Mask()), hi&ID(s.Mask())
	if lo == hi {
		if x != lo {
			return true
		}
		return inclusiveLo || inclusiveHi
	}

	d := s.Distance(lo, x)
	span := s.Distance(lo, hi)
	switch {
	case d == 0:
		return inclusiveLo
	case d < span:
		return true
	case d == span:
		return inclusiveHi
	default:
		return false
	}
}

// Hash maps value into the space using the space's hash family.
func (s Space) Hash(value string) ID {
	return ID(s.Family.Sum64(value) & s.Mask())
}

// Hash maps value into a space of the given width using SHA-1. The result
// equals the SHA-1 digest read as a big-endian integer, modulo 2^bits.
// bits must be in [1, MaxBits].
func Hash(value string, bits uint) (ID, error) {
	s, err := NewSpace(bits, SHA1)
	if err != nil {
		return 0, err
	}
	return s.Hash(value), nil
}
