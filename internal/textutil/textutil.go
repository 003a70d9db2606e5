package textutil

import (
	"strings"
	"unicode"
)

// stopwords is a small English stopword set used when computing lexical
// overlap and grounding. Content-bearing tokens are everything else.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {},
	"had": {}, "has": {}, "have": {}, "how": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "to": {}, "was": {}, "we": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

// Tokenize lowercases s and splits it on non-alphanumeric runes.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTokens returns the tokens of s with stopwords removed.
func ContentTokens(s string) []string {
	toks := Tokenize(s)
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ContentTokenSet returns the deduplicated content tokens of s.
func ContentTokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range ContentTokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Stem applies a light suffix stemmer sufficient for grounding checks.
// It is intentionally crude: plural/verb suffixes only, never below 3 runes.
func Stem(token string) string {
	for _, suf := range []string{"ings", "ing", "edly", "ed", "es", "s"} {
		if strings.HasSuffix(token, suf) && len(token)-len(suf) >= 3 {
			return token[:len(token)-len(suf)]
		}
	}
	return token
}

// Jaccard computes the Jaccard similarity of two token sets.
// Two empty sets are considered identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// JaccardText computes Jaccard similarity over the content tokens of two texts.
func JaccardText(a, b string) float64 {
	return Jaccard(ContentTokenSet(a), ContentTokenSet(b))
}

// ContainsPhrase reports whether the normalized text contains the normalized
// phrase as a contiguous token sequence.
func ContainsPhrase(text, phrase string) bool {
	p := strings.Join(Tokenize(phrase), " ")
	if p == "" {
		return false
	}
	t := strings.Join(Tokenize(text), " ")
	if t == p {
		return true
	}
	return strings.Contains(" "+t+" ", " "+p+" ")
}

// CountTokens approximates the token count of s. Whitespace-delimited words
// are close enough to model tokens for budget and coherence purposes.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// TruncateTokens cuts s down to at most maxTokens whitespace tokens,
// dropping from the tail.
func TruncateTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) <= maxTokens {
		return s
	}
	return strings.Join(fields[:maxTokens], " ")
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated
// (UTF-8 safe). If preserveWords is true, truncates at the last space before
// maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBeforeRune(s, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

// lastSpaceBeforeRune finds the last space before pos (in rune count)
func lastSpaceBeforeRune(s string, pos int) int {
	runes := []rune(s)
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}
