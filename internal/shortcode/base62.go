// Package shortcode turns identifiers into fixed-width, 7-character base-62 codes.
//
// Encode is lossy: only the low 32 bits of an identifier take part, and the
// mixed value is cut to its leading 7 digits. A code is therefore an opaque
// lookup key; uniqueness rests on the record store's existence check, not on
// this package.
package shortcode

import (
	"errors"
	"strings"
)

const (
	// Alphabet is the base-62 digit set, in value order.
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Length is the exact length of every encoded code.
	Length = 7

	base = uint64(len(Alphabet))

	fnvOffset = uint64(2166136261)
	fnvPrime  = uint64(16777619)
)

var (
	ErrInvalidCharacter = errors.New("invalid base62 character")
	ErrEmpty            = errors.New("empty base62 string")
	ErrOverflow         = errors.New("base62 value exceeds 64 bits")
)

var digitValue [256]int8

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}

	for i := range len(Alphabet) {
		digitValue[Alphabet[i]] = int8(i)
	}
}

// Encode derives the short code for an identifier.
func Encode(id int64) string {
	mixed := mix(uint64(id) & 0xFFFFFFFF)

	rendered := Render(mixed)
	if len(rendered) > Length {
		return rendered[:Length]
	}

	return pad(rendered, Length)
}

// mix spreads the truncated identifier with an FNV-1a style fold over its
// eight bytes and returns the absolute value of the signed result.
func mix(v uint64) uint64 {
	h := fnvOffset
	for i := range 8 {
		h ^= (v >> (i * 8)) & 0xFF
		h *= fnvPrime
	}

	signed := int64(h)
	if signed < 0 {
		signed = -signed
	}

	// -MinInt64 is still negative; it collapses to zero.
	if signed < 0 {
		return 0
	}

	return uint64(signed)
}

// Render writes n in base 62 without padding.
func Render(n uint64) string {
	if n == 0 {
		return Alphabet[:1]
	}

	var buf [11]byte

	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}

	return string(buf[i:])
}

// RenderPadded writes n in base 62, left-padded with '0' to width.
// Renderings longer than width are returned whole.
func RenderPadded(n uint64, width int) string {
	return pad(Render(n), width)
}

// Decode parses a base-62 string. It reverses Render only, not Encode.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, ErrEmpty
	}

	var n uint64

	for i := range len(s) {
		d := digitValue[s[i]]
		if d < 0 {
			return 0, ErrInvalidCharacter
		}

		if n > (^uint64(0)-uint64(d))/base {
			return 0, ErrOverflow
		}

		n = n*base + uint64(d)
	}

	return n, nil
}

// IsValidAlphabet reports whether s is non-empty and made only of base-62 digits.
func IsValidAlphabet(s string) bool {
	if s == "" {
		return false
	}

	for i := range len(s) {
		if digitValue[s[i]] < 0 {
			return false
		}
	}

	return true
}

// IsValidCode reports whether s could have been produced by Encode.
func IsValidCode(s string) bool {
	return len(s) == Length && IsValidAlphabet(s)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}

	return strings.Repeat(Alphabet[:1], width-len(s)) + s
}
