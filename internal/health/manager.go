package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand and caches the last results
// for background-refreshed probes.
type Manager struct {
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	interval    time.Duration
	started     bool
	stopCh      chan struct{}
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewManager creates a health manager. interval controls the background
// refresh cadence once Start is called.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		interval:    interval,
		stopCh:      make(chan struct{}),
		logger:      logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// UnregisterChecker removes a health check
func (m *Manager) UnregisterChecker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; !exists {
		return fmt.Errorf("checker %s not found", name)
	}
	delete(m.checkers, name)
	delete(m.lastResults, name)
	return nil
}

// Start begins background health checking
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("health manager already started")
	}
	m.started = true
	m.mu.Unlock()

	go m.checkLoop(ctx)
	return nil
}

// Stop stops background health checking
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
}

func (m *Manager) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Prime results immediately so readiness does not wait one interval
	m.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			m.refresh(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) refresh(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	for _, c := range checkers {
		result := m.runCheck(ctx, c)
		m.mu.Lock()
		m.lastResults[c.Name()] = result
		m.mu.Unlock()

		if result.Status == StatusUnhealthy {
			m.logger.Warn("Health check failed",
				zap.String("checker", c.Name()),
				zap.String("error", result.Error),
			)
		}
	}
}

func (m *Manager) runCheck(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		done <- c.Check(checkCtx)
	}()

	select {
	case result := <-done:
		return result
	case <-checkCtx.Done():
		return CheckResult{
			Status:    StatusUnhealthy,
			Component: c.Name(),
			Critical:  c.IsCritical(),
			Error:     "health check timed out",
			Duration:  c.Timeout(),
			Timestamp: time.Now(),
		}
	}
}

// GetDetailedHealth runs all checks and returns per-component results.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	timestamp := time.Now()
	components := make(map[string]CheckResult, len(checkers))
	summary := HealthSummary{Total: len(checkers)}

	criticalUnhealthy := false
	anyDegraded := false

	for _, c := range checkers {
		result := m.runCheck(ctx, c)
		components[c.Name()] = result

		m.mu.Lock()
		m.lastResults[c.Name()] = result
		m.mu.Unlock()

		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
			anyDegraded = true
		default:
			summary.Unhealthy++
			if result.Critical {
				criticalUnhealthy = true
			} else {
				anyDegraded = true
			}
		}
		if result.Critical {
			summary.Critical++
		}
	}

	overall := OverallHealth{
		Timestamp: timestamp,
		Duration:  time.Since(timestamp),
		Live:      true,
	}
	switch {
	case criticalUnhealthy:
		overall.Status = StatusUnhealthy
		overall.Message = "critical component unhealthy"
	case anyDegraded:
		overall.Status = StatusDegraded
		overall.Degraded = true
		overall.Ready = true
		overall.Message = "service degraded"
	default:
		overall.Status = StatusHealthy
		overall.Ready = true
		overall.Message = "all components healthy"
	}

	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  timestamp,
	}
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady returns true when every critical component is reachable.
// It serves readiness probes from the last background results when
// available to keep probe latency flat.
func (m *Manager) IsReady(ctx context.Context) bool {
	m.mu.RLock()
	cached := len(m.lastResults) > 0 && len(m.lastResults) == len(m.checkers)
	if cached {
		for _, result := range m.lastResults {
			if result.Critical && result.Status == StatusUnhealthy {
				m.mu.RUnlock()
				return false
			}
		}
		m.mu.RUnlock()
		return true
	}
	m.mu.RUnlock()

	return m.GetOverallHealth(ctx).Ready
}

// IsLive returns true while the process can serve probe traffic at all.
func (m *Manager) IsLive(_ context.Context) bool {
	return true
}
