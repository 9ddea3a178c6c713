package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/pkg/config"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/resilience"
)

type scripted struct {
	calls atomic.Int32
	fn    func(n int) (Response, error)
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Generate(ctx context.Context, req Request) (Response, error) {
	n := int(s.calls.Add(1))
	return s.fn(n)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestCatalogue(t *testing.T) {
	assert.Equal(t, []string{"claude", "gemini", "glm", "openai"}, Names())
	assert.True(t, Supported(" Gemini "))
	assert.False(t, Supported("llama"))
	assert.Equal(t, "gemini-2.5-flash", DefaultModel("gemini"))
	assert.Equal(t, "", DefaultModel("llama"))
	assert.True(t, SupportsJSONMode("openai"))
	assert.False(t, SupportsJSONMode("claude"))
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Q: hello", body.Contents[0].Parts[0].Text)
		assert.Equal(t, "application/json", body.GenerationConfig.ResponseMIMEType)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" {\"extractions\": "},{"text":"[]} "}]}}],
			"usageMetadata":{"promptTokenCount":7,"totalTokenCount":12}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("test-key", srv.URL, time.Second, nil)
	resp, err := p.Generate(context.Background(), Request{Model: "gemini-2.5-flash", Prompt: "Q: hello", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"extractions": []}`, resp.Text)
	assert.Equal(t, 7, resp.PromptTokens)
	assert.Equal(t, 12, resp.TotalTokens)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
}

func TestGeminiStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Resource has been exhausted"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiProvider("k", srv.URL, time.Second, nil).Generate(context.Background(), Request{Model: "m"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "Resource has been exhausted", se.Message)
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &StatusError{StatusCode: 429}, true},
		{"408", &StatusError{StatusCode: 408}, true},
		{"502", &StatusError{StatusCode: 502}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"rate message", errors.New("Rate limit reached for requests"), true},
		{"overloaded", errors.New("model is overloaded"), true},
		{"plain", errors.New("invalid prompt"), false},
		{"canceled", context.Canceled, false},
		{"circuit open", resilience.ErrCircuitOpen, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestReliableRetriesTransientErrors(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := &scripted{fn: func(n int) (Response, error) {
		if n < 3 {
			return Response{}, &StatusError{Provider: "scripted", StatusCode: 503}
		}
		return Response{Text: "ok", PromptTokens: 4, TotalTokens: 9}, nil
	}}
	r := NewReliable(p, fastRetry(), nil, nil, m)

	resp, err := r.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LLMRetriesTotal.WithLabelValues("scripted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("scripted", "ok")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.LLMTokensTotal.WithLabelValues("scripted", "total")))
}

func TestReliableRateLimitExhausted(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) {
		return Response{}, &StatusError{Provider: "scripted", StatusCode: 429, Message: "slow down"}
	}}
	_, err := NewReliable(p, fastRetry(), nil, nil, nil).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, apperrors.HTTPStatusCode(err))
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestReliableNonRetryableFailsFast(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) {
		return Response{}, &StatusError{Provider: "scripted", StatusCode: 400, Message: "bad model"}
	}}
	_, err := NewReliable(p, fastRetry(), nil, nil, nil).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatusCode(err))
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestReliableBreakerOpens(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) {
		return Response{}, &StatusError{Provider: "scripted", StatusCode: 500}
	}}
	cb := resilience.NewCircuitBreaker("llm.scripted", resilience.CircuitBreakerConfig{
		FailureThreshold: 2, ResetTimeout: time.Hour, IsFailure: Retryable,
	})
	r := NewReliable(p, resilience.RetryConfig{MaxAttempts: 1}, cb, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := r.Generate(context.Background(), Request{})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, cb.GetState())

	_, err := r.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestReliableEstimatesMissingTokenCounts(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) { return Response{Text: "abcdefgh"}, nil }}
	resp, err := NewReliable(p, fastRetry(), nil, NewTokenCounter(""), nil).
		Generate(context.Background(), Request{Prompt: "twelve chars"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.PromptTokens)
	assert.Equal(t, 5, resp.TotalTokens)
}

func TestReliableContextDeadline(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) { return Response{}, context.DeadlineExceeded }}
	_, err := NewReliable(p, fastRetry(), nil, nil, nil).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestReliableAttemptTimeout(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) {
		time.Sleep(200 * time.Millisecond)
		return Response{Text: "late"}, nil
	}}
	r := NewReliable(p, fastRetry(), nil, nil, nil)
	r.AttemptTimeout = 10 * time.Millisecond
	_, err := r.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, int32(1), p.calls.Load())
}

type chunked struct {
	scripted
	stream func(n int, onChunk func(string) error) (Response, error)
}

func (c *chunked) Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error) {
	n := int(c.calls.Add(1))
	return c.stream(n, onChunk)
}

func collect(chunks *[]string) func(string) error {
	return func(s string) error {
		*chunks = append(*chunks, s)
		return nil
	}
}

func TestStreamFallsBackToGenerate(t *testing.T) {
	p := &scripted{fn: func(int) (Response, error) { return Response{Text: "whole reply"}, nil }}
	var chunks []string
	resp, err := Stream(context.Background(), p, Request{}, collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{"whole reply"}, chunks)
	assert.Equal(t, "whole reply", resp.Text)

	failing := &scripted{fn: func(int) (Response, error) { return Response{}, errors.New("boom") }}
	chunks = nil
	_, err = Stream(context.Background(), failing, Request{}, collect(&chunks))
	assert.Error(t, err)
	assert.Empty(t, chunks)
}

func TestReliableStreamRetriesBeforeFirstChunk(t *testing.T) {
	p := &chunked{stream: func(n int, onChunk func(string) error) (Response, error) {
		if n == 1 {
			return Response{}, &StatusError{Provider: "scripted", StatusCode: 503}
		}
		for _, c := range []string{"{\"a\":", "1}"} {
			if err := onChunk(c); err != nil {
				return Response{}, err
			}
		}
		return Response{Text: `{"a":1}`, PromptTokens: 2, TotalTokens: 5}, nil
	}}
	var chunks []string
	resp, err := NewReliable(p, fastRetry(), nil, nil, nil).Stream(context.Background(), Request{}, collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":`, "1}"}, chunks)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestReliableStreamNoRetryAfterChunk(t *testing.T) {
	p := &chunked{stream: func(_ int, onChunk func(string) error) (Response, error) {
		if err := onChunk("partial"); err != nil {
			return Response{}, err
		}
		return Response{}, &StatusError{Provider: "scripted", StatusCode: 503}
	}}
	var chunks []string
	_, err := NewReliable(p, fastRetry(), nil, nil, nil).Stream(context.Background(), Request{}, collect(&chunks))
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, []string{"partial"}, chunks)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGeminiStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"{\"vitals\": "}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"null}"}]}}],"usageMetadata":{"promptTokenCount":3,"totalTokenCount":8}}` + "\n\n"))
	}))
	defer srv.Close()

	var chunks []string
	resp, err := NewGeminiProvider("k", srv.URL, time.Second, nil).
		Stream(context.Background(), Request{Model: "gemini-2.5-flash", Prompt: "note"}, collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"vitals": `, "null}"}, chunks)
	assert.Equal(t, `{"vitals": null}`, resp.Text)
	assert.Equal(t, 3, resp.PromptTokens)
	assert.Equal(t, 8, resp.TotalTokens)
}

func TestTokenCounterEstimate(t *testing.T) {
	var nilCounter *TokenCounter
	assert.Equal(t, 0, nilCounter.Count(""))
	assert.Equal(t, 2, NewTokenCounter("").Count("héllo"))
}

func TestRegistry(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "gemini",
		MaxRetries:      1,
		Providers:       map[string]config.ProviderConfig{"openai": {APIKey: "configured"}},
	}
	r := NewRegistry(cfg, nil, nil)

	_, err := r.Get("llama", "k")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedProvider)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))

	_, err = r.Get("claude", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	p, err := r.Get("OpenAI", "")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.True(t, r.Configured("openai"))
	assert.False(t, r.Configured("claude"))

	var gotKey string
	r.Register("gemini", func(key, _ string) Provider {
		gotKey = key
		return &scripted{fn: func(int) (Response, error) { return Response{Text: "hi"}, nil }}
	})
	p, err = r.Get("", "request-key")
	require.NoError(t, err)
	resp, err := p.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, "request-key", gotKey)
	assert.Equal(t, resilience.StateClosed, r.BreakerState("gemini"))
}
