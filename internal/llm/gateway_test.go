package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	results []fakeResult
	calls   int
}

type fakeResult struct {
	content string
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (string, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	return r.content, r.err
}

func newTestGateway(t *testing.T, providers []Provider, opts ...GatewayOption) *Gateway {
	t.Helper()
	opts = append([]GatewayOption{
		WithSleeper(func(time.Duration) {}),
		WithBackoff(time.Millisecond, time.Millisecond),
	}, opts...)
	g, err := NewGateway(providers, opts...)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestGatewayFirstProviderSucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", results: []fakeResult{{content: "hello"}}}
	secondary := &fakeProvider{name: "secondary", results: []fakeResult{{content: "unused"}}}
	g := newTestGateway(t, []Provider{primary, secondary})

	content, attempts, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if content != "hello" {
		t.Fatalf("content = %q, want hello", content)
	}
	if len(attempts) != 1 || attempts[0].Provider != "primary" {
		t.Fatalf("attempts = %+v, want one primary attempt", attempts)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestGatewayFallsBackAfterRetryableExhaustion(t *testing.T) {
	timeoutErr := &StatusError{Provider: "primary", StatusCode: http.StatusServiceUnavailable}
	primary := &fakeProvider{name: "primary", results: []fakeResult{{err: timeoutErr}}}
	secondary := &fakeProvider{name: "secondary", results: []fakeResult{{content: "fallback text"}}}
	g := newTestGateway(t, []Provider{primary, secondary}, WithMaxRetries(3))

	content, attempts, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if content != "fallback text" {
		t.Fatalf("content = %q", content)
	}
	if primary.calls != 3 {
		t.Fatalf("primary calls = %d, want 3", primary.calls)
	}
	if len(attempts) != 4 {
		t.Fatalf("attempts = %d, want 4", len(attempts))
	}
	for i := 0; i < 3; i++ {
		if attempts[i].Provider != "primary" || !attempts[i].Retryable {
			t.Fatalf("attempt %d = %+v, want retryable primary failure", i, attempts[i])
		}
	}
	if attempts[3].Provider != "secondary" || attempts[3].Err != "" {
		t.Fatalf("attempt 3 = %+v, want secondary success", attempts[3])
	}
}

func TestGatewayFatalErrorSkipsToNextProvider(t *testing.T) {
	authErr := &StatusError{Provider: "primary", StatusCode: http.StatusUnauthorized}
	primary := &fakeProvider{name: "primary", results: []fakeResult{{err: authErr}}}
	secondary := &fakeProvider{name: "secondary", results: []fakeResult{{content: "ok"}}}
	g := newTestGateway(t, []Provider{primary, secondary}, WithMaxRetries(3))

	_, attempts, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1 (no retry on auth failure)", primary.calls)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Retryable {
		t.Fatalf("auth failure marked retryable")
	}
}

func TestGatewayExhaustionReturnsAttemptChain(t *testing.T) {
	errA := &StatusError{Provider: "a", StatusCode: http.StatusTooManyRequests}
	errB := &ContentPolicyError{Provider: "b", Reason: "refused"}
	a := &fakeProvider{name: "a", results: []fakeResult{{err: errA}}}
	b := &fakeProvider{name: "b", results: []fakeResult{{err: errB}}}
	g := newTestGateway(t, []Provider{a, b}, WithMaxRetries(2))

	_, attempts, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 3 {
		t.Fatalf("exhausted attempts = %d, want 3 (2 from a, 1 from b)", len(exhausted.Attempts))
	}
	if len(attempts) != 3 {
		t.Fatalf("returned attempts = %d, want 3", len(attempts))
	}
	var policyErr *ContentPolicyError
	if !errors.As(exhausted.Last, &policyErr) {
		t.Fatalf("last error = %v, want content policy error", exhausted.Last)
	}
}

func TestGatewayStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeProvider{name: "primary", results: []fakeResult{{err: context.Canceled}}}
	g := newTestGateway(t, []Provider{primary})
	cancel()

	_, _, err := g.Generate(ctx, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if primary.calls != 0 {
		t.Fatalf("provider called after cancel")
	}
}

func TestGatewayHonorsRetryAfterHint(t *testing.T) {
	rateErr := &StatusError{Provider: "primary", StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Millisecond}
	primary := &fakeProvider{name: "primary", results: []fakeResult{{err: rateErr}, {content: "ok"}}}

	var slept []time.Duration
	g := newTestGateway(t, []Provider{primary}, WithMaxRetries(2),
		WithBackoff(time.Millisecond, 50*time.Millisecond),
		WithSleeper(func(d time.Duration) {
			slept = append(slept, d)
		}))

	content, _, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if content != "ok" {
		t.Fatalf("content = %q", content)
	}
	if len(slept) != 1 || slept[0] != 5*time.Millisecond {
		t.Fatalf("slept = %v, want one 5ms sleep from Retry-After", slept)
	}
}
