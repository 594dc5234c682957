package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.LinkCreated(true)
	m.LinkCreated(false)
	m.LinkCreated(false)
	m.LinkResolved(false)
	m.LinkExpiredHit()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinksCreated.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinksCreated.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExpiredHits))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.LinkDeleted()

	e := echo.New()
	e.GET("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shorty_links_deleted_total 1")
}
