package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_ObserveInbound(t *testing.T) {
	m := New()

	m.ObserveInbound("ping")
	m.ObserveInbound("ping")
	m.ObserveInbound("print")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.inbound.WithLabelValues("ping")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inbound.WithLabelValues("unknown")))
}

func TestRelay_ObserveDelivery(t *testing.T) {
	m := New()

	m.ObserveDelivery(true)
	m.ObserveDelivery(false)
	m.ObserveDelivery(true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.deliveries.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.deliveries.WithLabelValues("dropped")))
}

func TestRelay_SetOccupancy(t *testing.T) {
	m := New()

	m.SetOccupancy(3, 1)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.connections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rooms))
}

func TestRelay_NilIsSafe(t *testing.T) {
	var m *Relay

	assert.NotPanics(t, func() {
		m.ObserveInbound("ping")
		m.ObserveDelivery(true)
		m.SetOccupancy(1, 1)
	})
}

func TestRelay_Handler(t *testing.T) {
	m := New()
	m.SetOccupancy(2, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bridge_connections 2")
}
