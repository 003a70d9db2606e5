package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corterra/answerd/internal/rerank"
	"github.com/corterra/answerd/internal/vectordb"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubIndex struct {
	hits      []vectordb.Hit
	lastLimit int
	lastScope string
	err       error
}

func (s *stubIndex) Search(_ context.Context, _ []float32, limit int, _ float64, scopeID string) ([]vectordb.Hit, error) {
	s.lastLimit = limit
	s.lastScope = scopeID
	return s.hits, s.err
}

func (s *stubIndex) Upsert(_ context.Context, _ []vectordb.UpsertItem) error { return nil }
func (s *stubIndex) HealthCheck(_ context.Context) error                     { return nil }

type stubScorer struct {
	scores []float64
	err    error
}

func (s stubScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.scores != nil {
		return s.scores, nil
	}
	out := make([]float64, len(passages))
	for i := range out {
		out[i] = 0.8
	}
	return out, nil
}

func newRetriever(t *testing.T, idx *stubIndex, scorer rerank.Scorer) *Retriever {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(Config{}, stubEmbedder{}, idx, rerank.New(scorer, logger), logger)
}

func TestRetrieveBlendsScores(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.Hit{
		{ID: "c1", SourceID: "doc-a", ChunkIndex: 0, Text: "first", Score: 0.9},
		{ID: "c2", SourceID: "doc-b", ChunkIndex: 3, Text: "second", Score: 0.5},
	}}
	r := newRetriever(t, idx, stubScorer{scores: []float64{0.4, 0.9}})

	res, err := r.Retrieve(context.Background(), "query", 5, "")
	require.NoError(t, err)
	require.Len(t, res.Passages, 2)

	// 0.3*0.5 + 0.7*0.9 = 0.78 beats 0.3*0.9 + 0.7*0.4 = 0.55
	assert.Equal(t, "c2", res.Passages[0].ID)
	assert.InDelta(t, 0.78, res.Passages[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.55, res.Passages[1].FinalScore, 1e-9)
	assert.Equal(t, rerank.ModeCrossEncoder, res.RerankMode)
}

func TestRetrieveOverFetches(t *testing.T) {
	idx := &stubIndex{}
	r := newRetriever(t, idx, stubScorer{})

	_, err := r.Retrieve(context.Background(), "query", 3, "scope-1")
	require.NoError(t, err)
	// max(3*4, 20) = 20
	assert.Equal(t, 20, idx.lastLimit)
	assert.Equal(t, "scope-1", idx.lastScope)

	_, err = r.Retrieve(context.Background(), "query", 10, "")
	require.NoError(t, err)
	assert.Equal(t, 40, idx.lastLimit)
}

func TestRetrieveFiltersFinalScoreFloor(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.Hit{
		{ID: "c1", SourceID: "doc-a", ChunkIndex: 0, Text: "weak", Score: 0.2},
	}}
	// 0.3*0.2 + 0.7*0.1 = 0.13 < 0.3
	r := newRetriever(t, idx, stubScorer{scores: []float64{0.1}})

	res, err := r.Retrieve(context.Background(), "query", 5, "")
	require.NoError(t, err)
	assert.Empty(t, res.Passages)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	var hits []vectordb.Hit
	for i := 0; i < 10; i++ {
		hits = append(hits, vectordb.Hit{
			ID: string(rune('a' + i)), SourceID: "doc", ChunkIndex: i, Text: "t", Score: 0.9,
		})
	}
	idx := &stubIndex{hits: hits}
	r := newRetriever(t, idx, stubScorer{})

	res, err := r.Retrieve(context.Background(), "query", 3, "")
	require.NoError(t, err)
	assert.Len(t, res.Passages, 3)
}

func TestRetrieveDeterministicTieBreaks(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.Hit{
		{ID: "c1", SourceID: "doc-b", ChunkIndex: 2, Text: "t", Score: 0.8},
		{ID: "c2", SourceID: "doc-a", ChunkIndex: 5, Text: "t", Score: 0.8},
		{ID: "c3", SourceID: "doc-a", ChunkIndex: 1, Text: "t", Score: 0.8},
	}}
	r := newRetriever(t, idx, stubScorer{})

	res, err := r.Retrieve(context.Background(), "query", 5, "")
	require.NoError(t, err)
	require.Len(t, res.Passages, 3)
	// Equal final scores: source id asc, then chunk index asc
	assert.Equal(t, "c3", res.Passages[0].ID)
	assert.Equal(t, "c2", res.Passages[1].ID)
	assert.Equal(t, "c1", res.Passages[2].ID)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := newRetriever(t, &stubIndex{}, stubScorer{})
	res, err := r.Retrieve(context.Background(), "query", 5, "")
	require.NoError(t, err)
	assert.Empty(t, res.Passages)
	assert.Equal(t, rerank.ModeCrossEncoder, res.RerankMode)
}

func TestRetrieveEmptyIndexWithoutCrossEncoder(t *testing.T) {
	// No primary scorer wired: the reported mode must reflect the lexical
	// path even when there is nothing to score
	r := newRetriever(t, &stubIndex{}, nil)
	res, err := r.Retrieve(context.Background(), "query", 5, "")
	require.NoError(t, err)
	assert.Empty(t, res.Passages)
	assert.Equal(t, rerank.ModeLexicalFallback, res.RerankMode)
}

func TestRetrieveLexicalFallbackSurfaces(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.Hit{
		{ID: "c1", SourceID: "doc-a", ChunkIndex: 0, Text: "a hash table stores key value pairs", Score: 0.9},
	}}
	r := newRetriever(t, idx, stubScorer{err: assert.AnError})

	res, err := r.Retrieve(context.Background(), "hash table key value", 5, "")
	require.NoError(t, err)
	assert.Equal(t, rerank.ModeLexicalFallback, res.RerankMode)
	require.Len(t, res.Passages, 1)
}
