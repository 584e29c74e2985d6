package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim/evsim/sim"
	"github.com/evsim/evsim/sim/metrics"
)

func TestMetricsHandler_ServesRecorderSeries(t *testing.T) {
	// GIVEN a recorder that observed one dispatch
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg, sim.SyncModeMaster)
	require.NoError(t, err)
	ev := &sim.Event{Kind: sim.IOReqArrive, Time: 3}
	rec.EventDispatched(ev, 2)

	// WHEN /metrics is scraped
	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// THEN the exposition carries the role label and the series
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `evsim_simtime{role="master"} 3`)
	assert.Contains(t, string(body), "evsim_events_dispatched_total")
}

func TestStartMetrics_ListensAndShutsDown(t *testing.T) {
	rec, shutdown, err := startMetrics("127.0.0.1:0", sim.SyncModeNone)
	require.NoError(t, err)
	require.NotNil(t, rec)
	shutdown()
}
