package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "create"),
		attribute.String("company_id", "456"),
		attribute.String("event_type", "volume.low"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("operation"), attrs[0].Key)
	assert.Equal(t, attribute.Key("event_type"), attrs[1].Key)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWorkEntryMutation(t.Context(), "create", true)
	m.RecordLowVolumeWarning(t.Context())
	m.RecordEventDelivery(t.Context(), "volume.low", nil)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordIncludedMinutes(t.Context(), 60)
	m.RecordStatusTransition(t.Context(), "IN_PROGRESS", "client_reply")
}

func TestHTTPMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/ping", http.MethodGet, "204")))
}
