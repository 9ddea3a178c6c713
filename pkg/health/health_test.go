package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("llm", PingCheck(func(context.Context) error { return nil }, ""))
	c.Register("redis", PingCheck(nil, "cache disabled"))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "cache disabled", report.Components["redis"].Message)

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("connection refused") }, ""))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(nil, "cache disabled"))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("down") }, ""))
	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
