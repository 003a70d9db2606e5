package ranking

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/generation"
	"github.com/corterra/answerd/internal/retrieval"
	"github.com/corterra/answerd/internal/textutil"
)

// Weights for the composite candidate score. Fluency (inverse perplexity),
// completeness (length against target), and the runtime's own confidence.
const (
	fluencyWeight      = 0.4
	completenessWeight = 0.3
	selfConfWeight     = 0.3

	// The grounding fraction multiplies the composite; below this floor
	// the result is additionally halved, so a fluent hallucination
	// can't win.
	groundingFloor     = 0.2
	groundingDemotion  = 0.5
	completenessTarget = 200.0
)

// Scored pairs a candidate with its composite score and grounding fraction.
type Scored struct {
	Candidate generation.Candidate
	Score     float64
	Grounding float64
}

// Ranker selects the best candidate from a best-of-N pool.
type Ranker struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{logger: logger}
}

// Rank scores all candidates against the retrieved passages and returns
// them best first. Ordering is fully deterministic: ties break on
// grounding, then self-confidence, then profile tag.
func (r *Ranker) Rank(candidates []generation.Candidate, passages []retrieval.Passage) []Scored {
	passageTokens := passageTokenSet(passages)

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		g := grounding(c.Text, passageTokens)
		s := composite(c, g)
		scored = append(scored, Scored{Candidate: c, Score: s, Grounding: g})
	}

	// Presort by profile tag so equal-scored pools rank identically
	// regardless of goroutine completion order.
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Candidate.Profile < scored[j].Candidate.Profile
	})
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Grounding != scored[j].Grounding {
			return scored[i].Grounding > scored[j].Grounding
		}
		if scored[i].Candidate.SelfConfidence != scored[j].Candidate.SelfConfidence {
			return scored[i].Candidate.SelfConfidence > scored[j].Candidate.SelfConfidence
		}
		return scored[i].Candidate.Profile < scored[j].Candidate.Profile
	})

	if len(scored) > 0 {
		r.logger.Debug("candidate ranking complete",
			zap.String("winner_profile", scored[0].Candidate.Profile),
			zap.Float64("winner_score", scored[0].Score),
			zap.Float64("winner_grounding", scored[0].Grounding),
			zap.Int("pool", len(scored)),
		)
	}
	return scored
}

// Best returns the winning candidate, or false for an empty pool.
func (r *Ranker) Best(candidates []generation.Candidate, passages []retrieval.Passage) (Scored, bool) {
	scored := r.Rank(candidates, passages)
	if len(scored) == 0 {
		return Scored{}, false
	}
	return scored[0], true
}

func composite(c generation.Candidate, grounding float64) float64 {
	ppl := c.Perplexity
	if ppl < 1 {
		ppl = 1
	}
	fluency := 1 / ppl
	completeness := math.Min(float64(c.Tokens)/completenessTarget, 1)
	score := fluencyWeight*fluency + completenessWeight*completeness + selfConfWeight*c.SelfConfidence
	score *= grounding
	if grounding < groundingFloor {
		score *= groundingDemotion
	}
	return score
}

// grounding is the fraction of the answer's stemmed content tokens that
// appear (stemmed) somewhere in the retrieved passages. An answer with no
// content tokens is fully ungrounded.
func grounding(answer string, passageTokens map[string]struct{}) float64 {
	toks := textutil.ContentTokens(answer)
	if len(toks) == 0 {
		return 0
	}
	hit := 0
	for _, t := range toks {
		if _, ok := passageTokens[textutil.Stem(t)]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(toks))
}

func passageTokenSet(passages []retrieval.Passage) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range passages {
		for _, t := range textutil.ContentTokens(p.Text) {
			set[textutil.Stem(t)] = struct{}{}
		}
	}
	return set
}
