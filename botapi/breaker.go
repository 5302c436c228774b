package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/en9inerd/go-tgbot/httperrors"
)

// CircuitBreakerSettings configures the optional circuit breaker in front of the Bot API.
type CircuitBreakerSettings struct {
	// MaxRequests is the number of requests allowed through while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which counts are cleared.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// ReadyToTrip decides from the failure counts whether to open the breaker.
	// If nil, the breaker opens at a 50% failure rate after 3 requests.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultCircuitBreakerSettings returns the default breaker settings
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: defaultReadyToTrip,
	}
}

func defaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 3 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// WithCircuitBreaker puts a circuit breaker in front of every request
func (c *Client) WithCircuitBreaker(s CircuitBreakerSettings) *Client {
	if s.ReadyToTrip == nil {
		s.ReadyToTrip = defaultReadyToTrip
	}
	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:         "botapi",
		MaxRequests:  s.MaxRequests,
		Interval:     s.Interval,
		Timeout:      s.Timeout,
		ReadyToTrip:  s.ReadyToTrip,
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if c.logger != nil {
				c.logger.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return c
}

// breakerSuccess counts only server-side failures against the breaker: network errors,
// undecodable replies and 5xx API errors. 4xx replies, 429 included, are the caller's problem.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *httperrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code < 500
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return false
}
