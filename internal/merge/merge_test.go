package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corterra/answerd/internal/external"
	"github.com/corterra/answerd/internal/retrieval"
)

func testMerger(t *testing.T) *Merger {
	t.Helper()
	return New(0.6, 0.4, zaptest.NewLogger(t))
}

func localAnswer(text string, conf float64) LocalAnswer {
	return LocalAnswer{
		Text:       text,
		Confidence: conf,
		Passages: []retrieval.Passage{
			{SourceID: "doc-a", ChunkIndex: 0, FinalScore: 0.9},
			{SourceID: "doc-b", ChunkIndex: 2, FinalScore: 0.7},
		},
	}
}

func TestMergeReinforcing(t *testing.T) {
	m := testMerger(t)
	local := localAnswer("hash tables store key value pairs efficiently", 0.7)
	ext := &external.Answer{
		Text:       "hash tables store key value pairs efficiently",
		Confidence: 0.9,
		Sources:    []external.Source{{URI: "https://example.com", Score: 0.8}},
	}

	res := m.Merge(local, ext)
	assert.Equal(t, StrategyReinforcing, res.Strategy)
	assert.Greater(t, res.Similarity, 0.8)
	// Higher-confidence side (external) is kept verbatim
	assert.True(t, strings.HasPrefix(res.Text, ext.Text))
	assert.Contains(t, res.Text, "corroborated")
	assert.InDelta(t, 0.6*0.7+0.4*0.9, res.Confidence, 1e-9)
}

func TestMergeComplementary(t *testing.T) {
	m := testMerger(t)
	local := localAnswer("hash tables store key value pairs with fast lookup", 0.60)
	ext := &external.Answer{
		Text:       "hash tables store key value pairs resize dynamically",
		Confidence: 0.80,
	}

	res := m.Merge(local, ext)
	require.Equal(t, StrategyComplementary, res.Strategy)
	assert.Greater(t, res.Similarity, 0.5)
	assert.LessOrEqual(t, res.Similarity, 0.8)
	assert.Contains(t, res.Text, "Additional context:")
	// External has higher confidence so it leads
	assert.True(t, strings.HasPrefix(res.Text, ext.Text))
	assert.InDelta(t, 0.68, res.Confidence, 1e-9)
}

func TestMergeConflicting(t *testing.T) {
	m := testMerger(t)
	local := localAnswer("the capital of australia is canberra", 0.5)
	ext := &external.Answer{Text: "sydney is the largest city by population", Confidence: 0.5}

	res := m.Merge(local, ext)
	assert.Equal(t, StrategyConflicting, res.Strategy)
	assert.LessOrEqual(t, res.Similarity, 0.5)
	assert.Contains(t, res.Text, "Local analysis:")
	assert.Contains(t, res.Text, "External perspective:")
	assert.Contains(t, res.Text, local.Text)
	assert.Contains(t, res.Text, ext.Text)
}

func TestMergeProvenanceOrder(t *testing.T) {
	m := testMerger(t)
	local := localAnswer("answer text here", 0.5)
	ext := &external.Answer{
		Text:       "completely different words altogether",
		Confidence: 0.5,
		Sources:    []external.Source{{URI: "https://a.example"}, {URI: "https://b.example"}},
	}

	res := m.Merge(local, ext)
	require.Len(t, res.Provenance, 4)
	// Local sources first, in passage order
	assert.Equal(t, "local", res.Provenance[0].Type)
	assert.Equal(t, "doc-a", res.Provenance[0].SourceID)
	require.NotNil(t, res.Provenance[0].ChunkIndex)
	assert.Equal(t, 0, *res.Provenance[0].ChunkIndex)
	assert.Equal(t, "local", res.Provenance[1].Type)
	assert.Equal(t, "external", res.Provenance[2].Type)
	assert.Equal(t, "https://a.example", res.Provenance[2].URI)
	assert.Equal(t, "external", res.Provenance[3].Type)
}

func TestLocalOnly(t *testing.T) {
	m := testMerger(t)
	local := localAnswer("a local answer", 0.82)

	res := m.LocalOnly(local)
	assert.Empty(t, res.Strategy)
	assert.Equal(t, 0.82, res.Confidence)
	assert.Equal(t, "a local answer", res.Text)
	require.Len(t, res.Provenance, 2)
	for _, p := range res.Provenance {
		assert.Equal(t, "local", p.Type)
	}
}

func TestMergeNilExternalFallsBackToLocal(t *testing.T) {
	m := testMerger(t)
	res := m.Merge(localAnswer("text", 0.5), nil)
	assert.Empty(t, res.Strategy)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestCoherence(t *testing.T) {
	assert.Equal(t, 0.0, coherence(""))
	assert.InDelta(t, 0.2, coherence(strings.Repeat("word ", 10)), 1e-9)
	assert.Equal(t, 1.0, coherence(strings.Repeat("word ", 50)))
	assert.Equal(t, 1.0, coherence(strings.Repeat("word ", 2000)))
}
