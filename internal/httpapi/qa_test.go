package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corterra/answerd/internal/cache"
	"github.com/corterra/answerd/internal/config"
	"github.com/corterra/answerd/internal/generation"
	"github.com/corterra/answerd/internal/merge"
	"github.com/corterra/answerd/internal/orchestrator"
	"github.com/corterra/answerd/internal/ranking"
	"github.com/corterra/answerd/internal/rerank"
	"github.com/corterra/answerd/internal/retrieval"
)

type fixedRetriever struct{ result *retrieval.Result }

func (f fixedRetriever) Retrieve(_ context.Context, _ string, _ int, _ string) (*retrieval.Result, error) {
	return f.result, nil
}

type fixedGenerator struct{ candidates []generation.Candidate }

func (f fixedGenerator) Generate(_ context.Context, _ string, _ []retrieval.Passage) ([]generation.Candidate, error) {
	return f.candidates, nil
}

func testHandler(t *testing.T) *QAHandler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.Default()
	cfg.Generation.NCandidates = 1
	cfg.Gate.ExternalEnabled = false

	store := cache.NewStore(time.Hour, time.Hour, logger)
	t.Cleanup(store.Close)

	ret := fixedRetriever{result: &retrieval.Result{
		Passages: []retrieval.Passage{
			{ID: "c1", SourceID: "doc-a", ChunkIndex: 0, Text: "hash tables store key value pairs", FinalScore: 0.9},
		},
		RerankMode: rerank.ModeCrossEncoder,
	}}
	gen := fixedGenerator{candidates: []generation.Candidate{{
		Text:           "hash tables store key value pairs",
		Profile:        "precise",
		Tokens:         200,
		Perplexity:     1,
		SelfConfidence: 0.9,
	}}}

	orc := orchestrator.New(cfg, ret, gen, ranking.New(logger), merge.New(0.6, 0.4, logger), nil, store, logger)
	return NewQAHandler(orc, logger)
}

func postQA(t *testing.T, h *QAHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/qa", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestQASuccess(t *testing.T) {
	h := testHandler(t)
	rec := postQA(t, h, `{"question": "Explain hash tables."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp qaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Answer)
	assert.Greater(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "local", resp.Sources[0].Type)
	assert.Equal(t, "doc-a", resp.Sources[0].SourceID)
	assert.False(t, resp.Cached)
	assert.Empty(t, resp.Strategy)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestQACachedRepeat(t *testing.T) {
	h := testHandler(t)
	first := postQA(t, h, `{"question": "Explain hash tables."}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postQA(t, h, `{"question": "explain hash tables"}`)
	require.Equal(t, http.StatusOK, second.Code)

	var r1, r2 qaResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &r2))
	assert.True(t, r2.Cached)
	assert.Equal(t, r1.Answer, r2.Answer)
	assert.Equal(t, r1.Confidence, r2.Confidence)
}

func TestQAEmptyQuestion(t *testing.T) {
	h := testHandler(t)
	rec := postQA(t, h, `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQAMalformedBody(t *testing.T) {
	h := testHandler(t)
	rec := postQA(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestQAMethodNotAllowed(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/qa", nil)
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMapError(t *testing.T) {
	status, _ := mapError(orchestrator.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = mapError(orchestrator.ErrTimeout)
	assert.Equal(t, http.StatusRequestTimeout, status)

	status, _ = mapError(orchestrator.ErrUpstream)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = mapError(orchestrator.ErrSaturated)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = mapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
}
