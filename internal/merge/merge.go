package merge

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/external"
	"github.com/corterra/answerd/internal/metrics"
	"github.com/corterra/answerd/internal/retrieval"
	"github.com/corterra/answerd/internal/textutil"
)

// Strategy tags how the local and external answers were combined.
type Strategy string

const (
	StrategyReinforcing   Strategy = "reinforcing"
	StrategyComplementary Strategy = "complementary"
	StrategyConflicting   Strategy = "conflicting"
)

// Similarity thresholds for strategy selection.
const (
	reinforcingAbove   = 0.8
	complementaryAbove = 0.5
)

// LocalAnswer is the winning locally-generated answer with its provenance.
type LocalAnswer struct {
	Text       string
	Confidence float64
	Passages   []retrieval.Passage
}

// Provenance is one source entry in the response, local or external.
type Provenance struct {
	Type       string  `json:"type"` // "local" or "external"
	Score      float64 `json:"score"`
	SourceID   string  `json:"source_id,omitempty"`
	URI        string  `json:"uri,omitempty"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`
}

// Result is the fused answer. Strategy is empty on the local-only path.
type Result struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Strategy   Strategy     `json:"strategy"`
	Similarity float64      `json:"similarity"`
	Coherence  float64      `json:"coherence"`
	Provenance []Provenance `json:"provenance,omitempty"`
}

// Merger combines local and external answers. Alpha weights the local
// confidence, beta the external; they are fixed at construction and must
// sum to one.
type Merger struct {
	alpha  float64
	beta   float64
	logger *zap.Logger
}

func New(alpha, beta float64, logger *zap.Logger) *Merger {
	if alpha == 0 && beta == 0 {
		alpha, beta = 0.6, 0.4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{alpha: alpha, beta: beta, logger: logger}
}

// LocalOnly wraps a local answer that passed the confidence gate.
func (m *Merger) LocalOnly(local LocalAnswer) Result {
	return Result{
		Text:       local.Text,
		Confidence: clamp01(local.Confidence),
		Coherence:  coherence(local.Text),
		Provenance: localProvenance(local.Passages),
	}
}

// Merge fuses local and external answers. Similarity over content tokens
// picks the strategy; fused confidence is the fixed weighted sum.
func (m *Merger) Merge(local LocalAnswer, ext *external.Answer) Result {
	if ext == nil {
		return m.LocalOnly(local)
	}

	sim := textutil.JaccardText(local.Text, ext.Text)
	conf := clamp01(m.alpha*local.Confidence + m.beta*ext.Confidence)

	var strategy Strategy
	var text string
	switch {
	case sim > reinforcingAbove:
		strategy = StrategyReinforcing
		text = reinforcingText(local, ext)
	case sim > complementaryAbove:
		strategy = StrategyComplementary
		text = complementaryText(local, ext)
	default:
		strategy = StrategyConflicting
		text = conflictingText(local, ext)
	}

	// Stable provenance: local passages first, then external sources
	prov := localProvenance(local.Passages)
	for _, s := range ext.Sources {
		prov = append(prov, Provenance{Type: "external", URI: s.URI, Score: s.Score})
	}

	metrics.MergeStrategies.WithLabelValues(string(strategy)).Inc()
	m.logger.Debug("answers merged",
		zap.String("strategy", string(strategy)),
		zap.Float64("similarity", sim),
		zap.Float64("fused_confidence", conf),
	)

	return Result{
		Text:       text,
		Confidence: conf,
		Strategy:   strategy,
		Similarity: sim,
		Coherence:  coherence(text),
		Provenance: prov,
	}
}

// reinforcingText keeps the higher-confidence answer verbatim and appends
// a one-line confirmation citing the other side.
func reinforcingText(local LocalAnswer, ext *external.Answer) string {
	if local.Confidence >= ext.Confidence {
		return local.Text + "\n\nThis is corroborated by external sources."
	}
	return ext.Text + "\n\nThis is corroborated by local document analysis."
}

// complementaryText emits the higher-confidence answer followed by a
// delimited paragraph from the other.
func complementaryText(local LocalAnswer, ext *external.Answer) string {
	primary, secondary := local.Text, ext.Text
	if ext.Confidence > local.Confidence {
		primary, secondary = ext.Text, local.Text
	}
	return fmt.Sprintf("%s\n\nAdditional context:\n%s", primary, secondary)
}

// conflictingText presents both answers without blending.
func conflictingText(local LocalAnswer, ext *external.Answer) string {
	var b strings.Builder
	b.WriteString("Local analysis:\n")
	b.WriteString(local.Text)
	b.WriteString("\n\nExternal perspective:\n")
	b.WriteString(ext.Text)
	return b.String()
}

// coherence is a length proxy: answers in [50, 1500] tokens score 1.0,
// shorter ones scale linearly, longer ones are not penalized. Recorded
// for observability, never gated on.
func coherence(text string) float64 {
	tokens := textutil.CountTokens(text)
	if tokens >= 50 {
		return 1.0
	}
	return float64(tokens) / 50.0
}

func localProvenance(passages []retrieval.Passage) []Provenance {
	prov := make([]Provenance, 0, len(passages))
	for _, p := range passages {
		idx := p.ChunkIndex
		prov = append(prov, Provenance{
			Type:       "local",
			SourceID:   p.SourceID,
			ChunkIndex: &idx,
			Score:      p.FinalScore,
		})
	}
	return prov
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
