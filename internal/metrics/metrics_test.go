package metrics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{401, "4xx"},
		{404, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusClass(tt.code), "code %d", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	AttestationUpsertsTotal.WithLabelValues(ResultOK).Inc()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arp_active_websocket_clients")
	assert.Contains(t, w.Body.String(), `arp_attestation_upserts_total{result="ok"}`)
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/attestations/:address", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/v1/attestations/:address", "4xx")
	unmatched := HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")
	before, beforeUnmatched := testutil.ToFloat64(counter), testutil.ToFloat64(unmatched)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/attestations/0xdead", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(counter)-before)
	assert.Equal(t, 1.0, testutil.ToFloat64(unmatched)-beforeUnmatched)
}

func TestObserveStore(t *testing.T) {
	ObserveStore("get", time.Now().Add(-time.Millisecond))
	assert.Positive(t, testutil.CollectAndCount(StoreOperationDuration, "arp_store_operation_duration_seconds"))
}

type nopConnector struct{}

func (nopConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("no database")
}
func (nopConnector) Driver() driver.Driver { return nil }

func TestRegisterDBStats_Idempotent(t *testing.T) {
	db := sql.OpenDB(nopConnector{})
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RegisterDBStats(db))
	require.NoError(t, RegisterDBStats(db))
}
