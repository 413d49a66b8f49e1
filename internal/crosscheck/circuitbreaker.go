package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// BreakerConfig configures the per-server circuit breakers
type BreakerConfig struct {
	// MaxRequests passed through while half-open
	MaxRequests uint32
	// Interval clears the counts while closed
	Interval time.Duration
	// Timeout of the open state before half-open
	Timeout time.Duration
	// FailureThreshold is the failure ratio tripping the breaker
	FailureThreshold float64
}

// DefaultBreakerConfig returns the breaker defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
	}
}

func (c BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 3 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureThreshold
}

// BreakerClient wraps a Querier with one circuit breaker per server
type BreakerClient struct {
	querier  Querier
	config   BreakerConfig
	onChange func(server string, to gobreaker.State)

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerClient protects q with circuit breakers. onChange, if not nil,
// is called on every state transition.
func NewBreakerClient(q Querier, config BreakerConfig, onChange func(server string, to gobreaker.State)) *BreakerClient {
	if config.MaxRequests == 0 {
		config = DefaultBreakerConfig()
	}
	return &BreakerClient{
		querier:  q,
		config:   config,
		onChange: onChange,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerClient) breakerFor(server string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	breaker, exists := b.breakers[server]
	b.mu.RUnlock()
	if exists {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, exists := b.breakers[server]; exists {
		return breaker
	}
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        server,
		MaxRequests: b.config.MaxRequests,
		Interval:    b.config.Interval,
		Timeout:     b.config.Timeout,
		ReadyToTrip: b.config.readyToTrip,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.SafeWarn("crosscheck", "circuit breaker state changed", map[string]interface{}{
				"server": name,
				"from":   from.String(),
				"to":     to.String(),
			})
			if b.onChange != nil {
				b.onChange(name, to)
			}
		},
	})
	b.breakers[server] = breaker
	return breaker
}

// Query implements Querier
func (b *BreakerClient) Query(ctx context.Context, server string) (*Response, error) {
	result, err := b.breakerFor(server).Execute(func() (interface{}, error) {
		return b.querier.Query(ctx, server)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker open for %s: %w", server, err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

// State returns the breaker state of server, closed if never queried
func (b *BreakerClient) State(server string) gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	breaker, exists := b.breakers[server]
	if !exists {
		return gobreaker.StateClosed
	}
	return breaker.State()
}
