package llm

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/nasher721/Extract721/pkg/config"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/resilience"
)

// Factory builds a raw provider for one API key.
type Factory func(apiKey, baseURL string) Provider

// Registry resolves provider names to reliable providers. Circuit breakers
// are shared per provider across requests, whatever key they carry.
type Registry struct {
	cfg       config.LLMConfig
	metrics   *metrics.Metrics
	tokens    *TokenCounter
	logger    *slog.Logger
	mu        sync.Mutex
	factories map[string]Factory
	breakers  map[string]*resilience.CircuitBreaker
}

// NewRegistry creates a Registry with the four hosted providers. m may be
// nil.
func NewRegistry(cfg config.LLMConfig, tokens *TokenCounter, m *metrics.Metrics) *Registry {
	r := &Registry{
		cfg:       cfg,
		metrics:   m,
		tokens:    tokens,
		logger:    slog.Default().With("component", "llm"),
		factories: make(map[string]Factory),
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	r.Register(Gemini, func(key, base string) Provider { return NewGeminiProvider(key, base, cfg.Timeout, hc) })
	r.Register(OpenAI, func(key, base string) Provider { return NewOpenAIProvider(OpenAI, key, base) })
	r.Register(GLM, func(key, base string) Provider { return NewOpenAIProvider(GLM, key, base) })
	r.Register(Claude, func(key, base string) Provider { return NewClaudeProvider(key, base) })
	return r
}

// Register installs or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

// Get returns a reliable provider for name. apiKey overrides the configured
// key; one of the two must be set.
func (r *Registry) Get(name, apiKey string) (Provider, error) {
	name = normalizeName(name)
	if name == "" {
		name = normalizeName(r.cfg.DefaultProvider)
	}
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrUnsupportedProvider, http.StatusBadRequest,
			"unsupported provider %q, choose from %v", name, Names())
	}

	pc := r.cfg.Provider(name)
	if apiKey == "" {
		apiKey = pc.APIKey
	}
	if apiKey == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"api_key is required for provider %s", name)
	}
	rel := NewReliable(f(apiKey, pc.BaseURL), r.retryConfig(), r.breaker(name), r.tokens, r.metrics)
	rel.AttemptTimeout = r.cfg.Timeout
	return rel, nil
}

// Configured reports whether a key is configured for name.
func (r *Registry) Configured(name string) bool {
	return r.cfg.Provider(name).APIKey != ""
}

// BreakerState returns the breaker state for name, StateClosed when the
// provider has not been used yet.
func (r *Registry) BreakerState(name string) resilience.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[normalizeName(name)]; ok {
		return cb.GetState()
	}
	return resilience.StateClosed
}

func (r *Registry) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  r.cfg.MaxRetries,
		InitialDelay: r.cfg.InitialDelay,
		MaxDelay:     r.cfg.MaxDelay,
		Multiplier:   r.cfg.Multiplier,
	}
}

func (r *Registry) breaker(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	m := r.metrics
	cb := resilience.NewCircuitBreaker("llm."+name, resilience.CircuitBreakerConfig{
		FailureThreshold: r.cfg.BreakerFailures,
		ResetTimeout:     r.cfg.BreakerReset,
		IsFailure:        Retryable,
		OnStateChange: func(_ string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues("llm." + name).Set(float64(to))
			}
		},
	})
	r.breakers[name] = cb
	return cb
}
