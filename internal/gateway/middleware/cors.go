// Package middleware provides the HTTP API's CORS and per-client rate-limit
// middleware.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nasher721/Extract721/pkg/config"
)

// CORSConfig controls Cross-Origin Resource Sharing behaviour.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int // seconds
}

// NewCORSConfig allows the configured origins with the API's methods and
// headers.
func NewCORSConfig(cfg config.CORSConfig) CORSConfig {
	return CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:       86400,
	}
}

// allowCredentials is false when any origin is the "*" wildcard, so
// credentials are never combined with a wildcard.
func (c CORSConfig) allowCredentials() bool {
	for _, o := range c.AllowOrigins {
		if o == "*" {
			return false
		}
	}
	return true
}

// CORS returns middleware that sets the CORS response headers for allowed
// origins and answers preflight OPTIONS requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	credentials := cfg.allowCredentials()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := false
			for _, o := range cfg.AllowOrigins {
				if o == "*" || strings.EqualFold(strings.TrimSpace(o), origin) {
					allowed = true
					break
				}
			}
			if !allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			if credentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
