// Package health reports whether the advisor can serve consultations
package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"

	DefaultTimeout = 5 * time.Second
)

// CheckResult is the outcome of one dependency check
type CheckResult struct {
	Status    string                 `json:"status"`
	Latency   string                 `json:"latency"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Response is the body served on the health endpoint
type Response struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Metadata     map[string]interface{} `json:"metadata"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Checker checks one dependency
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) CheckResult

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks
type Manager struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewManager creates a health manager
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     DefaultTimeout,
		logger:      logger,
		checkers:    make(map[string]Checker),
	}
}

// SetTimeout bounds the total time of one Check
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// AddChecker registers a dependency check
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Check runs every registered check concurrently. Any unhealthy dependency
// makes the service unhealthy; otherwise any degraded one makes it degraded.
func (m *Manager) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = m.checkers[name]
	}
	m.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i := range checkers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			result := checkers[i].Check(ctx)
			result.Latency = time.Since(start).String()
			result.Timestamp = time.Now()
			results[i] = result
		}(i)
	}
	wg.Wait()

	overall := StatusHealthy
	dependencies := make(map[string]CheckResult, len(names))
	for i, name := range names {
		dependencies[name] = results[i]
		switch results[i].Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:       overall,
		Service:      m.serviceName,
		Version:      m.version,
		Uptime:       time.Since(m.startTime).Round(time.Second).String(),
		Dependencies: dependencies,
		Metadata: map[string]interface{}{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
		Timestamp: time.Now(),
	}
}

// Handler serves the health response; unhealthy answers 503
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := m.Check(c.Request.Context())

		status := http.StatusOK
		if result.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
			m.logger.Warn("Health check failed", zap.Any("dependencies", result.Dependencies))
		}
		c.JSON(status, result)
	}
}

// StorageChecker checks a store through its ping function. Connection
// problems that usually pass report degraded rather than unhealthy.
func StorageChecker(backend string, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		metadata := map[string]interface{}{"backend": backend}
		if err := ping(ctx); err != nil {
			status := StatusUnhealthy
			if isTemporaryError(err) {
				status = StatusDegraded
			}
			return CheckResult{
				Status:   status,
				Error:    fmt.Sprintf("storage ping failed: %v", err),
				Metadata: metadata,
			}
		}
		return CheckResult{Status: StatusHealthy, Metadata: metadata}
	})
}

// WithStats adds the figures returned by stats to every result of checker
func WithStats(checker Checker, stats func() map[string]interface{}) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		result := checker.Check(ctx)
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		for k, v := range stats() {
			result.Metadata[k] = v
		}
		return result
	})
}

// CredentialChecker reports whether the model API key is configured. It does
// not call the provider.
func CredentialChecker(model string, apiKey string) Checker {
	return CheckerFunc(func(context.Context) CheckResult {
		metadata := map[string]interface{}{"model": model}
		if strings.TrimSpace(apiKey) == "" {
			return CheckResult{Status: StatusUnhealthy, Error: "API key is not configured", Metadata: metadata}
		}
		return CheckResult{Status: StatusHealthy, Metadata: metadata}
	})
}

func isTemporaryError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"context deadline exceeded",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
