package generation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corterra/answerd/internal/metrics"
	"github.com/corterra/answerd/internal/retrieval"
	"github.com/corterra/answerd/internal/textutil"
)

// SampleRequest is one decoding request to the generation runtime.
type SampleRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// SampleResult is the runtime's decoded answer. AvgLogprob and
// SelfConfidence are optional; zero means not reported.
type SampleResult struct {
	Text           string  `json:"text"`
	Tokens         int     `json:"tokens"`
	AvgLogprob     float64 `json:"avg_logprob"`
	SelfConfidence float64 `json:"self_confidence"`
}

// Runtime decodes one candidate from the generation backend.
type Runtime interface {
	Sample(ctx context.Context, req SampleRequest) (*SampleResult, error)
}

// Candidate is one generated answer with its quality signals.
type Candidate struct {
	Text           string
	Profile        string
	Tokens         int
	Perplexity     float64
	SelfConfidence float64
	// Fallback marks the extractive emergency candidate.
	Fallback bool
}

// Config holds the generation tunables.
type Config struct {
	NCandidates        int
	MaxConcurrency     int
	TargetTokens       int
	ContextTokenBudget int
}

func (c *Config) applyDefaults() {
	if c.NCandidates <= 0 {
		c.NCandidates = 5
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = 200
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 2048
	}
}

// Generator produces a best-of-N candidate pool over the sampling profiles.
type Generator struct {
	cfg      Config
	runtime  Runtime
	profiles []Profile
	logger   *zap.Logger
}

func New(cfg Config, runtime Runtime, logger *zap.Logger) *Generator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, runtime: runtime, profiles: DefaultProfiles(), logger: logger}
}

// Generate fans out N samples across the profiles with bounded concurrency.
// Partial failure is tolerated: whatever decoded successfully is returned.
// If every sample fails, a single extractive fallback candidate built from
// the top passage is returned instead of an error.
func (g *Generator) Generate(ctx context.Context, query string, passages []retrieval.Passage) ([]Candidate, error) {
	start := time.Now()
	prompt := BuildPrompt(query, passages, g.cfg.ContextTokenBudget)

	n := g.cfg.NCandidates
	limit := g.cfg.MaxConcurrency
	if limit > n {
		limit = n
	}

	var mu sync.Mutex
	candidates := make([]Candidate, 0, n)

	eg, sctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for i := 0; i < n; i++ {
		profile := g.profiles[i%len(g.profiles)]
		eg.Go(func() error {
			res, err := g.runtime.Sample(sctx, SampleRequest{
				Prompt:      prompt,
				Temperature: profile.Temperature,
				TopP:        profile.TopP,
				MaxTokens:   g.cfg.TargetTokens * 2,
			})
			if err != nil {
				// One failed sample never sinks the pool
				metrics.GenerationCandidates.WithLabelValues(profile.Tag, "error").Inc()
				g.logger.Warn("candidate generation failed",
					zap.String("profile", profile.Tag),
					zap.Error(err),
				)
				return nil
			}
			cand := Candidate{
				Text:           res.Text,
				Profile:        profile.Tag,
				Tokens:         res.Tokens,
				Perplexity:     perplexity(res),
				SelfConfidence: selfConfidence(res),
			}
			metrics.GenerationCandidates.WithLabelValues(profile.Tag, "ok").Inc()
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())

	if len(candidates) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fb, err := g.fallbackCandidate(passages)
		if err != nil {
			return nil, err
		}
		metrics.DegradedResponses.WithLabelValues("generation_fallback").Inc()
		return []Candidate{fb}, nil
	}
	return candidates, nil
}

// fallbackCandidate extracts the top passage verbatim as a last-resort
// answer when the runtime is completely unavailable.
func (g *Generator) fallbackCandidate(passages []retrieval.Passage) (Candidate, error) {
	if len(passages) == 0 {
		return Candidate{}, fmt.Errorf("generation failed and no passages available for fallback")
	}
	top := passages[0]
	text := textutil.TruncateTokens(top.Text, g.cfg.TargetTokens)
	return Candidate{
		Text:           text,
		Profile:        "fallback",
		Tokens:         textutil.CountTokens(text),
		Perplexity:     10, // worst-case proxy, ranks below any decoded answer
		SelfConfidence: 0.1,
		Fallback:       true,
	}, nil
}

// perplexity converts the runtime's average logprob when reported, and
// otherwise falls back to a repetition proxy: answers that repeat the same
// tokens score worse.
func perplexity(res *SampleResult) float64 {
	if res.AvgLogprob < 0 {
		p := math.Exp(-res.AvgLogprob)
		if p < 1 {
			p = 1
		}
		if p > 100 {
			p = 100
		}
		return p
	}
	toks := textutil.Tokenize(res.Text)
	if len(toks) == 0 {
		return 100
	}
	distinct := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		distinct[t] = struct{}{}
	}
	ratio := float64(len(distinct)) / float64(len(toks))
	return 1 + 9*(1-ratio)
}

func selfConfidence(res *SampleResult) float64 {
	if res.SelfConfidence > 0 {
		if res.SelfConfidence > 1 {
			return 1
		}
		return res.SelfConfidence
	}
	return 0.5
}
