package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nasher721/Extract721/internal/auth/ratelimit"
	"github.com/nasher721/Extract721/pkg/config"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	h := CORS(NewCORSConfig(config.CORSConfig{AllowOrigins: []string{"http://localhost:8000"}}))(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/extract", nil)
	req.Header.Set("Origin", "http://localhost:8000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:8000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardDropsCredentials(t *testing.T) {
	h := CORS(NewCORSConfig(config.CORSConfig{AllowOrigins: []string{"*"}}))(ok)
	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(time.Minute, 0)
	defer limiter.Close()
	h := RateLimit(limiter, 2)(ok)

	send := func(path, fwd string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "192.0.2.1:5555"
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/api/extract", "").Code)
	assert.Equal(t, http.StatusOK, send("/api/extract", "").Code)
	rec := send("/api/extract", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, send("/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, send("/api/extract", "198.51.100.7, 10.0.0.1").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, 10)(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:41000"
	assert.Equal(t, "203.0.113.9", ClientID(req))
	req.Header.Set("X-Forwarded-For", " 198.51.100.7 ,10.0.0.1")
	assert.Equal(t, "198.51.100.7", ClientID(req))
}
