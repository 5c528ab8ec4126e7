package idgen

import (
	"fmt"
	"math"
)

// Alphabet is the base62 symbol order. Every alias ever issued depends on it,
// so it must never change.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = uint64(len(Alphabet))

// MaxID is the largest value the codec accepts. It matches the generator's
// output range (non-negative int64).
const MaxID = uint64(math.MaxInt64)

// maxAliasLen is len(Encode(MaxID)).
const maxAliasLen = 11

// InvalidAliasError reports a string that is not the encoding of any valid ID.
type InvalidAliasError struct {
	Alias  string
	Reason string
}

func (e *InvalidAliasError) Error() string {
	return fmt.Sprintf("invalid alias %q: %s", e.Alias, e.Reason)
}

var charIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		idx[Alphabet[i]] = int8(i)
	}
	return idx
}()

// Encode returns the positional base62 form of n, without padding.
func Encode(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [maxAliasLen + 1]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// Decode is the inverse of Encode. It rejects empty input, characters outside
// the alphabet, redundant leading zeros and values above MaxID.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, &InvalidAliasError{Alias: s, Reason: "empty"}
	}
	if len(s) > maxAliasLen {
		return 0, &InvalidAliasError{Alias: s, Reason: "too long"}
	}
	if len(s) > 1 && s[0] == Alphabet[0] {
		// "007" and "7" would otherwise decode to the same ID.
		return 0, &InvalidAliasError{Alias: s, Reason: "leading zero"}
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		v := charIndex[s[i]]
		if v < 0 {
			return 0, &InvalidAliasError{Alias: s, Reason: fmt.Sprintf("character %q at %d not in alphabet", s[i], i)}
		}
		if n > (MaxID-uint64(v))/base {
			return 0, &InvalidAliasError{Alias: s, Reason: "exceeds max representable id"}
		}
		n = n*base + uint64(v)
	}
	return n, nil
}

// Valid reports whether s decodes cleanly.
func Valid(s string) bool {
	_, err := Decode(s)
	return err == nil
}
