package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsBodies(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/tickets/:id"),
		attribute.String("message.body", "secret"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsFirstLine(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New("persistence failed\nINSERT INTO ticket_messages body=..."))
	assert.EqualError(t, err, "persistence failed")
}

func TestDisabledProviderStillServesRequests(t *testing.T) {
	_, err := NewProvider(nil, Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
