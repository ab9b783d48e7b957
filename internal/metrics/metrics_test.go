package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinMiddleware_LabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/v1/listings/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/listings/:id", "418"))
	for _, id := range []string{"A", "B", "C"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/listings/"+id, nil))
		require.Equal(t, http.StatusTeapot, w.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/listings/:id", "418"))
	assert.Equal(t, 3.0, after-before)
}

func TestDomainCounters(t *testing.T) {
	RecordBookingTransition("accept")
	RecordPaymentOperation("payin", "succeeded")
	RecordWebhookEvent("PAYIN_SUCCEEDED", "applied")
	RecordJobRun("booking_expiry", true)

	assert.GreaterOrEqual(t, testutil.ToFloat64(bookingTransitions.WithLabelValues("accept")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobRuns.WithLabelValues("booking_expiry", "true")), 1.0)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "marketplace_payments_operations_total"))
}
