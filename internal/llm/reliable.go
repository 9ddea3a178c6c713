package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/resilience"
)

// Reliable wraps a Provider with retry, a circuit breaker, token accounting
// and metrics. Errors it returns are classified onto pkg/errors sentinels.
type Reliable struct {
	// AttemptTimeout bounds each provider call; zero leaves only ctx.
	AttemptTimeout time.Duration

	inner   Provider
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	tokens  *TokenCounter
	metrics *metrics.Metrics
}

// NewReliable wraps p. breaker and m may be nil.
func NewReliable(p Provider, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker, tokens *TokenCounter, m *metrics.Metrics) *Reliable {
	r := &Reliable{inner: p, retry: retry, breaker: breaker, tokens: tokens, metrics: m}
	r.retry.Retryable = Retryable
	r.retry.OnRetry = func(int, error) {
		if m != nil {
			m.LLMRetriesTotal.WithLabelValues(p.Name()).Inc()
		}
	}
	return r
}

func (r *Reliable) Name() string { return r.inner.Name() }

func (r *Reliable) Generate(ctx context.Context, req Request) (Response, error) {
	name := r.inner.Name()
	start := time.Now()

	var resp Response
	call := func() error {
		var out Response
		err := resilience.WithTimeout(ctx, r.AttemptTimeout, "llm."+name, func(ctx context.Context) error {
			var err error
			out, err = r.inner.Generate(ctx, req)
			return err
		})
		if err == nil {
			resp = out
		}
		return err
	}
	err := resilience.Retry(ctx, "llm."+name, r.retry, func() error {
		if r.breaker == nil {
			return call()
		}
		return r.breaker.Execute(call)
	})

	return r.finish(name, start, req, resp, err)
}

// Stream is Generate for a streamed reply. Attempts are retried only until
// the first chunk reaches onChunk.
func (r *Reliable) Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error) {
	name := r.inner.Name()
	start := time.Now()

	emitted := false
	forward := func(chunk string) error {
		emitted = true
		return onChunk(chunk)
	}
	var resp Response
	call := func() error {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.AttemptTimeout)
		}
		defer cancel()
		out, err := Stream(attemptCtx, r.inner, req, forward)
		if err == nil {
			resp = out
		}
		return err
	}
	retry := r.retry
	retry.Retryable = func(err error) bool { return !emitted && Retryable(err) }
	err := resilience.Retry(ctx, "llm."+name+".stream", retry, func() error {
		if r.breaker == nil {
			return call()
		}
		return r.breaker.Execute(call)
	})
	return r.finish(name, start, req, resp, err)
}

func (r *Reliable) finish(name string, start time.Time, req Request, resp Response, err error) (Response, error) {
	if r.metrics != nil {
		r.metrics.LLMLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		err = classify(name, err)
		if r.metrics != nil {
			r.metrics.LLMRequestsTotal.WithLabelValues(name, outcome(err)).Inc()
		}
		return Response{}, err
	}

	if resp.PromptTokens == 0 && r.tokens != nil {
		resp.PromptTokens = r.tokens.Count(req.Prompt)
	}
	if resp.TotalTokens < resp.PromptTokens {
		resp.TotalTokens = resp.PromptTokens
		if r.tokens != nil {
			resp.TotalTokens += r.tokens.Count(resp.Text)
		}
	}
	if r.metrics != nil {
		r.metrics.LLMRequestsTotal.WithLabelValues(name, "ok").Inc()
		r.metrics.LLMTokensTotal.WithLabelValues(name, "prompt").Add(float64(resp.PromptTokens))
		r.metrics.LLMTokensTotal.WithLabelValues(name, "total").Add(float64(resp.TotalTokens))
	}
	return resp, nil
}

// StatusCode extracts the HTTP status carried by a provider error.
func StatusCode(err error) (int, bool) {
	if code, ok := openAIStatus(err); ok {
		return code, true
	}
	if code, ok := claudeStatus(err); ok {
		return code, true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

// Retryable reports whether err is a transient provider failure: 408, 429
// or 5xx, or a message mentioning rate limits or overload.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if code, ok := StatusCode(err); ok {
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "503", "rate", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func rateLimited(err error) bool {
	if code, ok := StatusCode(err); ok {
		return code == http.StatusTooManyRequests
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate")
}

func classify(name string, err error) error {
	var exhausted *resilience.ExhaustedError
	switch {
	case errors.As(err, &exhausted) && rateLimited(exhausted.Err):
		return apperrors.Newf(apperrors.ErrRateLimited, http.StatusTooManyRequests,
			"provider %s rate-limited after %d retries: %v", name, exhausted.Attempts, exhausted.Err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.Newf(apperrors.ErrProviderUnavailable, http.StatusServiceUnavailable,
			"provider %s temporarily disabled after repeated failures", name)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: provider %s: %w", apperrors.ErrTimeout, name, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	if code, ok := StatusCode(err); ok && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
		return apperrors.Newf(apperrors.ErrProviderUnavailable, http.StatusBadGateway,
			"provider %s rejected the api key", name)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrProviderUnavailable, err)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
