package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim/metrics"
)

// metricsHandler serves reg in the Prometheus exposition format.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// startMetrics registers a recorder for role on a fresh registry and serves
// it on addr until the returned shutdown func is called.
func startMetrics(addr, role string) (*metrics.Recorder, func(), error) {
	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg, role)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics endpoint: %v", err)
		}
	}()
	logrus.Infof("serving metrics on http://%s/metrics", ln.Addr())

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.Warnf("stopping metrics endpoint: %v", err)
		}
	}
	return recorder, shutdown, nil
}
