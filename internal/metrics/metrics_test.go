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

func TestRouter_ServesMetricsAndHealth(t *testing.T) {
	m := New()
	m.Notifications.WithLabelValues("sent").Inc()

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `notifications_total{result="sent"} 1`)
}

func TestCounters(t *testing.T) {
	m := New()
	m.ProviderFetches.WithLabelValues("coingecko", "ok").Add(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderFetches.WithLabelValues("coingecko", "ok")))
}

func TestHelpers_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Fetch("polygon", "error")
		m.Notified("sent")
		m.Denied("alphavantage")
	})
}
