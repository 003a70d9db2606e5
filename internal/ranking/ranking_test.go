package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corterra/answerd/internal/generation"
	"github.com/corterra/answerd/internal/retrieval"
)

func groundedPassages() []retrieval.Passage {
	return []retrieval.Passage{
		{SourceID: "doc-a", ChunkIndex: 0, Text: "A hash table stores key value pairs using a hashing function."},
		{SourceID: "doc-b", ChunkIndex: 1, Text: "Average lookup time is constant for well distributed keys."},
	}
}

func TestRankPrefersGroundedCandidate(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	candidates := []generation.Candidate{
		{
			Text:           "Hash tables store key value pairs with constant lookup time.",
			Profile:        "precise",
			Tokens:         150,
			Perplexity:     2,
			SelfConfidence: 0.6,
		},
		{
			Text:           "Quantum entanglement enables faster than light communication everywhere.",
			Profile:        "exploratory",
			Tokens:         150,
			Perplexity:     2,
			SelfConfidence: 0.6,
		},
	}

	scored := r.Rank(candidates, groundedPassages())
	require.Len(t, scored, 2)
	assert.Equal(t, "precise", scored[0].Candidate.Profile)
	assert.Greater(t, scored[0].Grounding, scored[1].Grounding)
	// The ungrounded candidate was demoted
	assert.Less(t, scored[1].Score, scored[0].Score/1.5)
}

func TestCompositeScoreComponents(t *testing.T) {
	// Perfect candidate: ppl 1, full length, confidence 1, fully grounded
	c := generation.Candidate{Tokens: 200, Perplexity: 1, SelfConfidence: 1}
	assert.InDelta(t, 1.0, composite(c, 1.0), 1e-9)

	// Length is capped at the target
	c.Tokens = 1000
	assert.InDelta(t, 1.0, composite(c, 1.0), 1e-9)

	// Grounding multiplies the composite
	assert.InDelta(t, 0.5, composite(c, 0.5), 1e-9)

	// Below the floor the already-scaled score is halved again
	assert.InDelta(t, 0.05, composite(c, 0.1), 1e-9)
}

func TestRankDeterministicTieBreaks(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	// Identical signals, differing only in profile tag
	mk := func(profile string) generation.Candidate {
		return generation.Candidate{
			Text:           "hash table key value pairs",
			Profile:        profile,
			Tokens:         100,
			Perplexity:     2,
			SelfConfidence: 0.5,
		}
	}
	forward := r.Rank([]generation.Candidate{mk("balanced"), mk("analytical"), mk("precise")}, groundedPassages())
	reverse := r.Rank([]generation.Candidate{mk("precise"), mk("analytical"), mk("balanced")}, groundedPassages())

	require.Len(t, forward, 3)
	for i := range forward {
		assert.Equal(t, forward[i].Candidate.Profile, reverse[i].Candidate.Profile, "rank %d differs", i)
	}
	assert.Equal(t, "analytical", forward[0].Candidate.Profile)
}

func TestRankTieBreakOnProfileTag(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	a := generation.Candidate{Text: "x y z", Profile: "zz", Tokens: 100, Perplexity: 2, SelfConfidence: 0.9}
	b := generation.Candidate{Text: "x y z", Profile: "aa", Tokens: 100, Perplexity: 2, SelfConfidence: 0.9}

	scored := r.Rank([]generation.Candidate{a, b}, nil)
	require.Len(t, scored, 2)
	// Equal score, grounding, and confidence: profile tag ascending decides
	assert.Equal(t, "aa", scored[0].Candidate.Profile)
}

func TestRankTieBreakOnSelfConfidence(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	// Both fully ungrounded (score 0), same grounding, different confidence
	a := generation.Candidate{Text: "alpha beta", Profile: "zz", Tokens: 100, Perplexity: 2, SelfConfidence: 0.9}
	b := generation.Candidate{Text: "gamma delta", Profile: "aa", Tokens: 100, Perplexity: 2, SelfConfidence: 0.3}

	scored := r.Rank([]generation.Candidate{a, b}, nil)
	require.Len(t, scored, 2)
	assert.Equal(t, "zz", scored[0].Candidate.Profile)
}

func TestGroundingFraction(t *testing.T) {
	tokens := passageTokenSet(groundedPassages())

	full := grounding("hash table stores key value pairs", tokens)
	assert.InDelta(t, 1.0, full, 1e-9)

	none := grounding("ocean weather tomorrow sunny", tokens)
	assert.Equal(t, 0.0, none)

	empty := grounding("", tokens)
	assert.Equal(t, 0.0, empty)
}

func TestGroundingMatchesStemmedForms(t *testing.T) {
	tokens := passageTokenSet([]retrieval.Passage{{Text: "indexing hashed lookups"}})
	// Different surface forms, same stems
	g := grounding("indexed hashes lookup", tokens)
	assert.Greater(t, g, 0.5)
}

func TestBestEmptyPool(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	_, ok := r.Best(nil, nil)
	assert.False(t, ok)
}
