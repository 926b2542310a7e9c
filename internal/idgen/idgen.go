// Package idgen produces short, url-safe identifiers for claims, contests,
// and handoffs. Ids are sha256-derived and base36-encoded for information
// density; a nonce disambiguates collisions.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Id prefixes by entity.
const (
	ClaimPrefix   = "cl"
	ContestPrefix = "ct"
	HandoffPrefix = "ho"
)

// defaultLength is the hash suffix length for generated ids.
const defaultLength = 6

// EncodeBase36 converts a byte slice to a base36 string of the given length,
// zero-padded on the left and truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// Generator produces ids. The zero value is usable; a custom NowFn supports
// deterministic tests.
type Generator struct {
	NowFn func() time.Time
}

func (g *Generator) now() time.Time {
	if g != nil && g.NowFn != nil {
		return g.NowFn()
	}
	return time.Now()
}

// ClaimID generates a claim id from the issue, claimant, and claim instant.
func (g *Generator) ClaimID(issueID, claimantID string, nonce int) string {
	return g.derive(ClaimPrefix, issueID, claimantID, nonce)
}

// ContestID generates a contest id.
func (g *Generator) ContestID(issueID, contesterID string, nonce int) string {
	return g.derive(ContestPrefix, issueID, contesterID, nonce)
}

// HandoffID generates a handoff id.
func (g *Generator) HandoffID(issueID, fromID string, nonce int) string {
	return g.derive(HandoffPrefix, issueID, fromID, nonce)
}

func (g *Generator) derive(prefix, a, b string, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", a, b, g.now().UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(hash[:4], defaultLength))
}
