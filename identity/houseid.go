// Package identity supplies the house_id fallback used when a portal
// does not expose a stable listing identifier (§4.2).
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

const hashModulus = 1_000_000_000 // 10^9, per §4.2's fallback rule

// FallbackHouseID derives a stable identifier from address + postcode when
// the source page supplies none: abs(hash(address||postcode)) mod 10^9,
// rendered as a decimal string.
func FallbackHouseID(address, postcode string) string {
	normalized := NormaliseAddress(address)
	input := normalized + "|" + postcode

	sum := sha256.Sum256([]byte(input))
	// Fold the digest into a uint64 and reduce mod 10^9; sha256 output is
	// unsigned so there's no sign to take an abs() of here.
	n := binary.BigEndian.Uint64(sum[:8])
	return strconv.FormatUint(n%hashModulus, 10)
}

// NormaliseAddress lowercases, strips punctuation, and collapses
// whitespace so equivalent addresses hash identically.
func NormaliseAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	addr = multiSpaceRegex.ReplaceAllString(addr, " ")
	return strings.TrimSpace(addr)
}
