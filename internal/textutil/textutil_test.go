package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	toks := Tokenize("Hash tables, in Go!")
	assert.Equal(t, []string{"hash", "tables", "in", "go"}, toks)
}

func TestContentTokensDropsStopwords(t *testing.T) {
	toks := ContentTokens("What is the capital of France")
	assert.Equal(t, []string{"capital", "france"}, toks)
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"tables":   "table",
		"hashing":  "hash",
		"indexed":  "index",
		"go":       "go",  // too short to strip
		"es":       "es",  // never below 3 runes
		"queries":  "queri",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), "stem(%q)", in)
	}
}

func TestJaccard(t *testing.T) {
	a := ContentTokenSet("hash tables store key value pairs")
	b := ContentTokenSet("hash tables map keys to values")
	sim := Jaccard(a, b)
	assert.Greater(t, sim, 0.0)
	assert.Less(t, sim, 1.0)

	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard(a, nil))
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, ContainsPhrase("A hash table is a data structure", "hash table"))
	assert.True(t, ContainsPhrase("Hash Table!", "hash table"))
	assert.False(t, ContainsPhrase("hashing tables", "hash table"))
	assert.False(t, ContainsPhrase("anything", ""))
}

func TestTruncateTokens(t *testing.T) {
	s := "one two three four five"
	assert.Equal(t, "one two three", TruncateTokens(s, 3))
	assert.Equal(t, s, TruncateTokens(s, 10))
	assert.Equal(t, "", TruncateTokens(s, 0))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10, false))
	assert.Equal(t, "hello...", TruncateString("hello world out there", 11, true))
	assert.Equal(t, "...", TruncateString("hello", 3, false))
	assert.Equal(t, "", TruncateString("hello", 0, false))
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 4, CountTokens("a b  c\td"))
	assert.Equal(t, 0, CountTokens(""))
}
