package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SettlementMetrics(t *testing.T) {
	c := NewCollector("test", "abc123")

	c.EpochPhase(domain.EpochClosing, 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(c.epochNumber))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.epochPhase.WithLabelValues("closing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.epochPhase.WithLabelValues("open")))

	c.SettlementFinished(domain.SettlementSettled, time.Second)
	c.SettlementFinished(domain.SettlementFailed, time.Second)
	c.SettlementFinished(domain.SettlementSettled, time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.settlementsTotal.WithLabelValues("settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlementsTotal.WithLabelValues("failed")))

	c.SettlementRetried()
	c.PublishFailed()
	c.Submission("created")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlementRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submissionsTotal.WithLabelValues("created")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test", "abc123")
	c.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `veracity_http_requests_total{method="GET",route="/health",status="200"} 1`))
	assert.True(t, strings.Contains(body, `veracity_service_info{commit="abc123",version="test"} 1`))
}
