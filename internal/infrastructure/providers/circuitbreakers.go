// Package providers guards outbound venue API calls with named circuit
// breakers so a flapping endpoint degrades one fetcher instead of the
// whole evaluation cycle.
package providers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes one named breaker.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns conservative settings for a venue endpoint
// group. The venue APIs are public and unauthenticated, so recovery is
// quick and tripping is cheap.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 5,
	}
}

// BreakerStatus is a point-in-time view of one breaker for the ops API.
type BreakerStatus struct {
	Name      string           `json:"name"`
	State     string           `json:"state"`
	Counts    gobreaker.Counts `json:"counts"`
	ErrorRate float64          `json:"error_rate_pct"`
	NextReset time.Time        `json:"next_reset,omitempty"`
}

// CircuitBreakerManager holds the named breakers for all outbound calls.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]BreakerConfig
}

func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]BreakerConfig),
	}
}

// Register creates the breaker if it does not exist yet. Registering the
// same name twice is a no-op so client constructors can register freely.
func (m *CircuitBreakerManager) Register(cfg BreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.breakers[cfg.Name]; ok {
		return
	}

	m.configs[cfg.Name] = cfg
	m.breakers[cfg.Name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: tripCondition(cfg),
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Execute runs fn under the named breaker.
func (m *CircuitBreakerManager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	m.mu.RLock()
	breaker, ok := m.breakers[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("circuit breaker not registered: %s", name)
	}
	return breaker.Execute(fn)
}

// Status reports every registered breaker, for the health endpoint.
func (m *CircuitBreakerManager) Status() []BreakerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BreakerStatus, 0, len(m.breakers))
	for name, breaker := range m.breakers {
		counts := breaker.Counts()
		var errorRate float64
		if counts.Requests > 0 {
			errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
		}
		status := BreakerStatus{
			Name:      name,
			State:     breaker.State().String(),
			Counts:    counts,
			ErrorRate: errorRate,
		}
		if breaker.State() == gobreaker.StateOpen {
			status.NextReset = time.Now().Add(m.configs[name].Timeout)
		}
		out = append(out, status)
	}
	return out
}

func tripCondition(cfg BreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return errorRate >= cfg.ErrorRateThreshold
		}
		return false
	}
}
