package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/corterra/answerd/internal/cache"
	"github.com/corterra/answerd/internal/config"
	"github.com/corterra/answerd/internal/external"
	"github.com/corterra/answerd/internal/generation"
	"github.com/corterra/answerd/internal/merge"
	"github.com/corterra/answerd/internal/metrics"
	"github.com/corterra/answerd/internal/ranking"
	"github.com/corterra/answerd/internal/rerank"
	"github.com/corterra/answerd/internal/retrieval"
)

// insufficientLocalText is the structured local answer when retrieval
// finds nothing to ground on.
const insufficientLocalText = "The indexed documents do not contain enough information to answer this question."

// Retriever, Generator, and ExternalAgent are the collaborator surfaces
// the orchestrator drives. Satisfied by the concrete pipeline types.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, scopeID string) (*retrieval.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, passages []retrieval.Passage) ([]generation.Candidate, error)
}

type ExternalAgent interface {
	Query(ctx context.Context, query, hint string) (*external.Answer, error)
}

// Request is one QA request.
type Request struct {
	Question    string
	ScopeID     string
	UseExternal *bool // nil follows the configured default
}

// Metadata carries degraded-mode flags alongside a successful response.
type Metadata struct {
	Degraded           bool   `json:"degraded,omitempty"`
	Rerank             string `json:"rerank,omitempty"` // set to "lexical_fallback" on RR degradation
	ExternalTimedOut   bool   `json:"external_timed_out,omitempty"`
	GenerationFallback bool   `json:"generation_fallback,omitempty"`
}

// Response is the orchestrator's answer to one request.
type Response struct {
	Answer       string
	Confidence   float64
	Sources      []merge.Provenance
	Strategy     merge.Strategy
	Cached       bool
	ProcessingMs int64
	Metadata     Metadata
}

// Orchestrator owns each request's state from admission to response.
// The config is held as an atomic snapshot so hot reloads never race
// with in-flight requests; each request reads one consistent snapshot.
type Orchestrator struct {
	cfg       atomic.Pointer[config.Config]
	retriever Retriever
	generator Generator
	ranker    *ranking.Ranker
	merger    *merge.Merger
	agent     ExternalAgent
	store     *cache.Store

	group   singleflight.Group
	sem     chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg *config.Config, retriever Retriever, generator Generator, ranker *ranking.Ranker, merger *merge.Merger, agent ExternalAgent, store *cache.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxInFlight := cfg.Admission.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	rps := cfg.Admission.RatePerSecond
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.Admission.Burst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	o := &Orchestrator{
		retriever: retriever,
		generator: generator,
		ranker:    ranker,
		merger:    merger,
		agent:     agent,
		store:     store,
		sem:       make(chan struct{}, maxInFlight),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
	}
	o.cfg.Store(cfg)
	return o
}

// ApplyConfig swaps the tunables snapshot; in-flight requests keep the
// snapshot they started with. Admission settings are fixed at construction.
func (o *Orchestrator) ApplyConfig(cfg *config.Config) {
	o.cfg.Store(cfg)
}

// Process runs one request through the pipeline:
// retrieve -> generate -> rank -> gate -> (external) -> merge -> cache.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	cfg := o.cfg.Load()

	if req.Question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidInput)
	}

	// Bounded admission: reject rather than queue unboundedly
	if !o.limiter.Allow() {
		metrics.AdmissionRejected.Inc()
		return nil, ErrSaturated
	}
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	default:
		metrics.AdmissionRejected.Inc()
		return nil, ErrSaturated
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Deadlines.Total())
	defer cancel()

	fp := cache.Fingerprint(req.Question, req.ScopeID)

	if result, ok := o.store.Get(fp); ok {
		resp := responseFrom(result, Metadata{})
		resp.Cached = true
		resp.ProcessingMs = time.Since(start).Milliseconds()
		metrics.RecordRequestMetrics("ok", true, time.Since(start).Seconds())
		return resp, nil
	}

	// Single-flight: concurrent identical queries share one computation
	v, err, shared := o.group.Do(fp, func() (interface{}, error) {
		return o.answer(ctx, req, fp, cfg)
	})
	if shared {
		metrics.SingleflightShared.Inc()
	}
	if err != nil {
		metrics.RecordRequestMetrics(errorStatus(err), false, time.Since(start).Seconds())
		return nil, err
	}

	resp := v.(*Response)
	// Each caller reports its own wall time
	out := *resp
	out.ProcessingMs = time.Since(start).Milliseconds()
	metrics.RecordRequestMetrics("ok", false, time.Since(start).Seconds())
	return &out, nil
}

// answer runs the pipeline past the cache. It is executed at most once
// per fingerprint at a time.
func (o *Orchestrator) answer(ctx context.Context, req Request, fp string, cfg *config.Config) (*Response, error) {
	md := Metadata{}

	// Retrieving
	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, cfg.Deadlines.Retrieve())
	ret, err := o.retriever.Retrieve(retrieveCtx, req.Question, cfg.Retrieval.TopK, req.ScopeID)
	cancelRetrieve()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: retrieval: %v", ErrUpstream, err)
	}
	if ret.RerankMode == rerank.ModeLexicalFallback {
		md.Degraded = true
		md.Rerank = string(rerank.ModeLexicalFallback)
	}

	externalEnabled := cfg.Gate.ExternalEnabled && o.agent != nil
	if req.UseExternal != nil {
		externalEnabled = *req.UseExternal && o.agent != nil
	}

	// Pre-gate heuristic: weak retrieval makes external consultation
	// near-certain, so start it alongside generation. The goroutine is
	// cancelled unused if the gate passes, leaving outputs unchanged.
	var pregate <-chan externalOutcome
	var cancelPregate context.CancelFunc
	if externalEnabled && weakRetrieval(ret, cfg.Gate.PreGateFloor) {
		var ectx context.Context
		ectx, cancelPregate = context.WithTimeout(ctx, cfg.Deadlines.External())
		pregate = o.consultExternal(ectx, req.Question, "")
		defer cancelPregate()
	}

	// Generating
	local, genMD, err := o.generateLocal(ctx, req.Question, ret, cfg)
	if err != nil {
		return nil, err
	}
	md.Degraded = md.Degraded || genMD.Degraded
	md.GenerationFallback = genMD.GenerationFallback

	// Gated
	var result merge.Result
	if local.Confidence >= cfg.Gate.ThetaLocal || !externalEnabled {
		metrics.GateOutcomes.WithLabelValues("local").Inc()
		result = o.merger.LocalOnly(*local)
	} else {
		metrics.GateOutcomes.WithLabelValues("external").Inc()
		result = o.consultAndMerge(ctx, req.Question, *local, pregate, &md, cfg)
	}

	// Cached: degraded responses are never stored, so a later identical
	// query gets a clean recomputation.
	if !md.Degraded && ctx.Err() == nil {
		o.store.Put(fp, result)
	}

	resp := responseFrom(result, md)
	o.logger.Info("request answered",
		zap.String("fingerprint", fp[:12]),
		zap.Float64("confidence", resp.Confidence),
		zap.String("strategy", string(resp.Strategy)),
		zap.Bool("degraded", md.Degraded),
	)
	return resp, nil
}

// generateLocal runs best-of-N and ranking, producing the LocalAnswer.
func (o *Orchestrator) generateLocal(ctx context.Context, question string, ret *retrieval.Result, cfg *config.Config) (*merge.LocalAnswer, Metadata, error) {
	md := Metadata{}

	genCtx, cancelGen := context.WithTimeout(ctx, cfg.Deadlines.Generate())
	defer cancelGen()

	candidates, err := o.generator.Generate(genCtx, question, ret.Passages)
	if err != nil {
		if len(ret.Passages) == 0 {
			// Nothing retrieved and nothing generated: structured
			// insufficient-information answer with zero confidence.
			return &merge.LocalAnswer{Text: insufficientLocalText, Confidence: 0}, md, nil
		}
		if ctx.Err() != nil {
			return nil, md, ErrTimeout
		}
		return nil, md, fmt.Errorf("%w: generation: %v", ErrUpstream, err)
	}

	if len(candidates) < cfg.Generation.NCandidates {
		md.Degraded = true
	}
	for _, c := range candidates {
		if c.Fallback {
			md.Degraded = true
			md.GenerationFallback = true
		}
	}

	best, ok := o.ranker.Best(candidates, ret.Passages)
	if !ok {
		return &merge.LocalAnswer{Text: insufficientLocalText, Confidence: 0}, md, nil
	}

	return &merge.LocalAnswer{
		Text:       best.Candidate.Text,
		Confidence: clamp01(best.Score),
		Passages:   ret.Passages,
	}, md, nil
}

type externalOutcome struct {
	answer *external.Answer
	err    error
}

// consultExternal starts the agent call and returns its result channel.
func (o *Orchestrator) consultExternal(ctx context.Context, question, hint string) <-chan externalOutcome {
	ch := make(chan externalOutcome, 1)
	go func() {
		a, err := o.agent.Query(ctx, question, hint)
		ch <- externalOutcome{answer: a, err: err}
	}()
	return ch
}

// consultAndMerge waits for (or launches) the external call and merges.
// On agent failure the local answer stands, annotated: only a deadline
// miss is reported as external_timed_out; any other failure is plain
// degradation.
func (o *Orchestrator) consultAndMerge(ctx context.Context, question string, local merge.LocalAnswer, pregate <-chan externalOutcome, md *Metadata, cfg *config.Config) merge.Result {
	ch := pregate
	if ch == nil {
		ectx, cancel := context.WithTimeout(ctx, cfg.Deadlines.External())
		defer cancel()
		ch = o.consultExternal(ectx, question, "")
	}

	select {
	case out := <-ch:
		if out.err != nil {
			md.Degraded = true
			if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
				md.ExternalTimedOut = true
			} else {
				metrics.DegradedResponses.WithLabelValues("external_error").Inc()
			}
			o.logger.Warn("external agent failed, using local answer", zap.Error(out.err))
			return o.merger.LocalOnly(local)
		}
		return o.merger.Merge(local, out.answer)
	case <-ctx.Done():
		md.Degraded = true
		md.ExternalTimedOut = true
		return o.merger.LocalOnly(local)
	}
}

// weakRetrieval reports whether the retrieved context is thin enough that
// the gate will almost certainly consult the external agent.
func weakRetrieval(ret *retrieval.Result, floor float64) bool {
	if len(ret.Passages) == 0 {
		return true
	}
	return ret.Passages[0].FinalScore < floor
}

func responseFrom(result merge.Result, md Metadata) *Response {
	sources := result.Provenance
	if result.Confidence == 0 {
		sources = nil
	}
	return &Response{
		Answer:     result.Text,
		Confidence: result.Confidence,
		Sources:    sources,
		Strategy:   result.Strategy,
		Metadata:   md,
	}
}

func errorStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSaturated):
		return "saturated"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "internal"
	}
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
