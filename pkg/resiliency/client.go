// Package resiliency provides an HTTP client with retries and circuit breaking
// for calls to signers, ledgers, attestation services and blob stores.
package resiliency

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrCircuitOpen is returned when the breaker rejects a request.
var ErrCircuitOpen = errors.New("resiliency: circuit breaker open")

// Doer is the subset of *http.Client used by remote collaborators.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EnhancedClient wraps http.Client with resilience patterns:
// - Exponential Backoff & Jitter
// - Circuit Breaking
// - Trace context propagation
type EnhancedClient struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	breaker     *CircuitBreaker
	logger      *slog.Logger
}

// Option configures an EnhancedClient.
type Option func(*EnhancedClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *EnhancedClient) { e.client = c }
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(e *EnhancedClient) { e.maxRetries = n }
}

// WithBackoff sets the base backoff between attempts.
func WithBackoff(d time.Duration) Option {
	return func(e *EnhancedClient) { e.baseBackoff = d }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(e *EnhancedClient) { e.breaker = cb }
}

func NewEnhancedClient(name string, opts ...Option) *EnhancedClient {
	c := &EnhancedClient{
		client:      &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 100 * time.Millisecond,
		breaker:     NewCircuitBreaker(name, 5, 10*time.Second),
		logger:      slog.Default().With("component", "resiliency", "client", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes an HTTP request with resiliency patterns. Requests with a body
// are only retried when req.GetBody is set.
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// 1. Trace context injection (W3C traceparent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	// 2. Circuit Breaker Check
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w for %s", ErrCircuitOpen, c.breaker.name)
	}

	var resp *http.Response
	var err error

	// 3. Retry Loop with Exponential Backoff + Jitter
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Do(req)

		// Success
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}

		// Failure - Check if we should retry
		replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
		if i == c.maxRetries || ctx.Err() != nil || !replayable {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
			resp = nil
		}

		if serr := sleep(ctx, c.backoff(i)); serr != nil {
			err = serr
			break
		}
		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				err = berr
				break
			}
			req.Body = body
		}
		c.logger.DebugContext(ctx, "retrying request", "url", req.URL.Redacted(), "attempt", i+1)
	}

	// 4. Record Failure
	c.breaker.Failure()
	if resp != nil {
		return resp, nil
	}
	if err == nil {
		err = fmt.Errorf("resiliency: request to %s failed", req.URL.Redacted())
	}
	return nil, err
}

// backoff is base * 2^i plus up to 50ms of jitter.
func (c *EnhancedClient) backoff(i int) time.Duration {
	d := time.Duration(math.Pow(2, float64(i))) * c.baseBackoff
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type breakerState string

const (
	stateClosed   breakerState = "CLOSED"
	stateOpen     breakerState = "OPEN"
	stateHalfOpen breakerState = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        stateClosed,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold || cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}

// State returns the breaker state for diagnostics.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return string(cb.state)
}
