package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/rerank"
	"github.com/corterra/answerd/internal/vectordb"
)

// Embedder turns query text into a vector. Satisfied by *embeddings.Service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Passage is one retrieved chunk with its scoring breakdown.
type Passage struct {
	ID             string
	SourceID       string
	ChunkIndex     int
	Text           string
	RetrievalScore float64
	RerankScore    float64
	FinalScore     float64
}

// Result carries the ranked passages plus how rerank scoring was obtained.
type Result struct {
	Passages   []Passage
	RerankMode rerank.Mode
	Elapsed    time.Duration
}

// Config holds the retrieval tunables.
type Config struct {
	TopK int
	// MinRetrievalScore is the coarse floor applied at vector search time.
	MinRetrievalScore float64
	// MinFinalScore filters blended scores before truncation to TopK.
	MinFinalScore float64
	// RetrievalWeight and RerankWeight blend the two scores.
	RetrievalWeight float64
	RerankWeight    float64
}

func (c *Config) applyDefaults() {
	if c.TopK == 0 {
		c.TopK = 7
	}
	if c.MinRetrievalScore == 0 {
		c.MinRetrievalScore = 0.1
	}
	if c.MinFinalScore == 0 {
		c.MinFinalScore = 0.3
	}
	if c.RetrievalWeight == 0 && c.RerankWeight == 0 {
		c.RetrievalWeight = 0.3
		c.RerankWeight = 0.7
	}
}

// Retriever runs the two-stage retrieve-then-rerank pipeline.
type Retriever struct {
	cfg      Config
	embedder Embedder
	index    vectordb.Index
	reranker *rerank.Reranker
	logger   *zap.Logger
}

func New(cfg Config, embedder Embedder, index vectordb.Index, reranker *rerank.Reranker, logger *zap.Logger) *Retriever {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, embedder: embedder, index: index, reranker: reranker, logger: logger}
}

// Retrieve returns at most topK passages for the query, best first.
// topK <= 0 uses the configured default. A wide candidate set goes through
// the reranker, then blended scores below the floor are dropped.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, scopeID string) (*Result, error) {
	start := time.Now()
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so the reranker has enough candidates to reorder
	kInitial := topK * 4
	if kInitial < 20 {
		kInitial = 20
	}

	hits, err := r.index.Search(ctx, vec, kInitial, r.cfg.MinRetrievalScore, scopeID)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return &Result{Passages: []Passage{}, RerankMode: r.reranker.ConfiguredMode(), Elapsed: time.Since(start)}, nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}

	scores, mode, err := r.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	passages := make([]Passage, 0, len(hits))
	for i, h := range hits {
		retrievalScore := clamp01(h.Score)
		final := r.cfg.RetrievalWeight*retrievalScore + r.cfg.RerankWeight*scores[i]
		if final < r.cfg.MinFinalScore {
			continue
		}
		passages = append(passages, Passage{
			ID:             h.ID,
			SourceID:       h.SourceID,
			ChunkIndex:     h.ChunkIndex,
			Text:           h.Text,
			RetrievalScore: retrievalScore,
			RerankScore:    scores[i],
			FinalScore:     final,
		})
	}

	// Deterministic order: score desc, then source, then chunk position
	sort.Slice(passages, func(i, j int) bool {
		if passages[i].FinalScore != passages[j].FinalScore {
			return passages[i].FinalScore > passages[j].FinalScore
		}
		if passages[i].SourceID != passages[j].SourceID {
			return passages[i].SourceID < passages[j].SourceID
		}
		return passages[i].ChunkIndex < passages[j].ChunkIndex
	})
	if len(passages) > topK {
		passages = passages[:topK]
	}

	elapsed := time.Since(start)
	r.logger.Debug("retrieval complete",
		zap.Int("candidates", len(hits)),
		zap.Int("returned", len(passages)),
		zap.String("rerank_mode", string(mode)),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{Passages: passages, RerankMode: mode, Elapsed: elapsed}, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
