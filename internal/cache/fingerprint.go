package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes a query for fingerprinting: lowercase, collapse
// whitespace, strip surrounding punctuation. Idempotent by construction.
func Normalize(query string) string {
	fields := strings.FieldsFunc(strings.ToLower(query), unicode.IsSpace)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '\'' && r != '-'
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Fingerprint derives the cache key from a normalized query and optional
// document scope. The unit separator keeps (q="a", scope="b c") distinct
// from (q="a b", scope="c").
func Fingerprint(query, scopeID string) string {
	h := sha256.Sum256([]byte(Normalize(query) + "\x1f" + scopeID))
	return hex.EncodeToString(h[:])
}
