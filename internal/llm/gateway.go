package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"bookforge-backend/internal/shared/metrics"
	"bookforge-backend/internal/shared/telemetry"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
)

// Attempt records one provider call for diagnostics and error reporting.
type Attempt struct {
	Provider  string
	Latency   time.Duration
	Err       string
	Retryable bool
}

// ExhaustedError is returned when every provider in the chain has failed.
// It carries the full attempt history.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted after %d attempts: %v", len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Gateway fans a generation request across an ordered provider chain.
// Each provider gets a bounded number of retries with exponential backoff
// before the gateway falls through to the next one.
type Gateway struct {
	providers  []Provider
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	rng        *rand.Rand
	sleeper    func(time.Duration)
}

// GatewayOption customizes the gateway.
type GatewayOption func(*Gateway)

// WithMaxRetries overrides the per-provider attempt count.
func WithMaxRetries(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry backoff delays.
func WithBackoff(base, maxDelay time.Duration) GatewayOption {
	return func(g *Gateway) {
		if base > 0 {
			g.baseDelay = base
		}
		if maxDelay > 0 {
			g.maxDelay = maxDelay
		}
	}
}

// WithRand overrides the jitter source (useful for tests).
func WithRand(rng *rand.Rand) GatewayOption {
	return func(g *Gateway) {
		g.rng = rng
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) GatewayOption {
	return func(g *Gateway) {
		g.sleeper = sleeper
	}
}

// NewGateway constructs a gateway over the supplied providers, tried in order.
func NewGateway(providers []Provider, opts ...GatewayOption) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, errors.New("llm gateway: at least one provider required")
	}
	g := &Gateway{
		providers:  providers,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultRetryBaseDelay,
		maxDelay:   defaultRetryMaxDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Providers returns the names of the configured providers in chain order.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate runs the request through the provider chain and returns the first
// successful completion together with the attempt history.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, []Attempt, error) {
	var attempts []Attempt
	var lastErr error

	for idx, provider := range g.providers {
		if idx > 0 {
			metrics.IncProviderFallbacks()
			telemetry.Warn("llm.provider.fallback", map[string]any{
				"from": g.providers[idx-1].Name(),
				"to":   provider.Name(),
			})
		}

		for attempt := 1; attempt <= g.maxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", attempts, err
			}

			metrics.IncProviderAttempts()
			start := time.Now()
			content, err := provider.Generate(ctx, req)
			latency := time.Since(start)

			if err == nil {
				attempts = append(attempts, Attempt{Provider: provider.Name(), Latency: latency})
				return content, attempts, nil
			}

			retryable := Retryable(err)
			attempts = append(attempts, Attempt{
				Provider:  provider.Name(),
				Latency:   latency,
				Err:       summarizeErr(err),
				Retryable: retryable,
			})
			lastErr = err

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", attempts, err
			}

			telemetry.Warn("llm.provider.attempt_failed", map[string]any{
				"provider":  provider.Name(),
				"attempt":   attempt,
				"retryable": retryable,
				"error":     summarizeErr(err),
			})

			if !retryable {
				// Fatal for this provider. Move on to the next one.
				break
			}
			if attempt == g.maxRetries {
				break
			}

			delay := Backoff(g.baseDelay, g.maxDelay, attempt, g.rng)
			if hint := RetryAfterHint(err); hint > 0 {
				delay = hint
				if delay > g.maxDelay {
					delay = g.maxDelay
				}
			}
			if err := g.sleep(ctx, delay); err != nil {
				return "", attempts, err
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no provider produced content")
	}
	return "", attempts, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func (g *Gateway) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if g.sleeper != nil {
		g.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func summarizeErr(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	const limit = 200
	runes := []rune(msg)
	if len(runes) > limit {
		msg = string(runes[:limit]) + "..."
	}
	return msg
}
