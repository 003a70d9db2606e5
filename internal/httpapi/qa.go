package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/merge"
	"github.com/corterra/answerd/internal/orchestrator"
)

const maxRequestBytes = 64 * 1024

// qaRequest is the POST /qa body.
type qaRequest struct {
	Question    string `json:"question"`
	DocumentID  string `json:"document_id,omitempty"`
	UseExternal *bool  `json:"use_external,omitempty"`
}

// qaResponse is the POST /qa response payload.
type qaResponse struct {
	Answer           string             `json:"answer"`
	Confidence       float64            `json:"confidence"`
	Sources          []merge.Provenance `json:"sources"`
	ProcessingMs     int64              `json:"processing_ms"`
	Strategy         string             `json:"strategy,omitempty"`
	Cached           bool               `json:"cached"`
	Degraded         bool               `json:"degraded,omitempty"`
	Rerank           string             `json:"rerank,omitempty"`
	ExternalTimedOut bool               `json:"external_timed_out,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// QAHandler serves the question-answering endpoint.
type QAHandler struct {
	orc    *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewQAHandler(orc *orchestrator.Orchestrator, logger *zap.Logger) *QAHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAHandler{orc: orc, logger: logger}
}

// Register mounts the handler on mux.
func (h *QAHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/qa", h.handleQA)
}

func (h *QAHandler) handleQA(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req qaRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	resp, err := h.orc.Process(r.Context(), orchestrator.Request{
		Question:    req.Question,
		ScopeID:     req.DocumentID,
		UseExternal: req.UseExternal,
	})
	if err != nil {
		status, msg := mapError(err)
		h.logger.Warn("request failed",
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}

	out := qaResponse{
		Answer:           resp.Answer,
		Confidence:       resp.Confidence,
		Sources:          resp.Sources,
		ProcessingMs:     resp.ProcessingMs,
		Strategy:         string(resp.Strategy),
		Cached:           resp.Cached,
		Degraded:         resp.Metadata.Degraded,
		Rerank:           resp.Metadata.Rerank,
		ExternalTimedOut: resp.Metadata.ExternalTimedOut,
	}
	if out.Sources == nil {
		out.Sources = []merge.Provenance{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode response", zap.String("request_id", requestID), zap.Error(err))
		return
	}

	h.logger.Info("request served",
		zap.String("request_id", requestID),
		zap.Float64("confidence", out.Confidence),
		zap.Bool("cached", out.Cached),
		zap.Bool("degraded", out.Degraded),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, orchestrator.ErrTimeout):
		return http.StatusRequestTimeout, "request timed out"
	case errors.Is(err, orchestrator.ErrUpstream):
		return http.StatusServiceUnavailable, "upstream unavailable"
	case errors.Is(err, orchestrator.ErrSaturated):
		return http.StatusServiceUnavailable, "server saturated, retry later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
