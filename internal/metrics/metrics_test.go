package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("embedder", false)
	m.IncrementRequests("m", "json", "success")
	m.IncrementRequests("m", "json", "success")
	m.IncrementRequests("m", "pickle", "NotImplemented")
	m.ObserveModelLoad("m", time.Second, nil)
	m.ObserveModelLoad("m", time.Second, errors.New("missing"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("m", "json", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("m", "pickle", "NotImplemented")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads.WithLabelValues("m", "failure")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("embedder", true)
	m.ObserveTransform("m", 20*time.Millisecond)
	m.ObserveQueue(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "embedder_transform_duration_seconds"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
