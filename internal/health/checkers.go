package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/circuitbreaker"
	"github.com/corterra/answerd/internal/vectordb"
)

const degradedLatency = 100 * time.Millisecond

// ServiceChecker probes an HTTP sidecar (embedding, reranker, generator)
// via its health endpoint.
type ServiceChecker struct {
	name     string
	url      string
	client   *http.Client
	critical bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewServiceChecker creates a checker for an HTTP collaborator. url should
// point at the service's health endpoint.
func NewServiceChecker(name, url string, critical bool, logger *zap.Logger) *ServiceChecker {
	return &ServiceChecker{
		name:     name,
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		critical: critical,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func (s *ServiceChecker) Name() string           { return s.name }
func (s *ServiceChecker) IsCritical() bool       { return s.critical }
func (s *ServiceChecker) Timeout() time.Duration { return s.timeout }

func (s *ServiceChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: s.name,
		Critical:  s.critical,
		Timestamp: startTime,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(startTime)
		return result
	}

	resp, err := s.client.Do(req)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", s.name)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusUnhealthy
		result.Error = resp.Status
		result.Message = fmt.Sprintf("%s returned %d", s.name, resp.StatusCode)
		return result
	}

	if result.Duration > degradedLatency {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s responding with high latency", s.name)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", s.name)
	}
	result.Details = map[string]interface{}{
		"latency_ms":  result.Duration.Milliseconds(),
		"status_code": resp.StatusCode,
	}
	return result
}

// VectorIndexChecker checks the vector backend (Qdrant or the embedded
// SQLite index).
type VectorIndexChecker struct {
	index   vectordb.Index
	backend string
	timeout time.Duration
}

func NewVectorIndexChecker(index vectordb.Index, backend string) *VectorIndexChecker {
	return &VectorIndexChecker{
		index:   index,
		backend: backend,
		timeout: 5 * time.Second,
	}
}

func (v *VectorIndexChecker) Name() string           { return "vector_index" }
func (v *VectorIndexChecker) IsCritical() bool       { return true }
func (v *VectorIndexChecker) Timeout() time.Duration { return v.timeout }

func (v *VectorIndexChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "vector_index",
		Critical:  true,
		Timestamp: startTime,
	}

	err := v.index.HealthCheck(ctx)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "vector index unreachable"
		return result
	}

	if result.Duration > degradedLatency {
		result.Status = StatusDegraded
		result.Message = "vector index responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "vector index healthy"
	}
	result.Details = map[string]interface{}{
		"backend":    v.backend,
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// RedisChecker checks the answer/embedding cache backend. Redis is an
// optimization layer, so it is non-critical.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Timestamp: startTime,
	}

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	if result.Duration > degradedLatency {
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}
