// Package metrics exposes termexecd's process-local session counters and
// gauges for scraping. Additive observability, not part of the JSON-RPC
// surface.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twistedxcom/termexecd/internal/logging"
)

var metricsLog = logging.ForComponent(logging.CompMetrics)

// Metrics holds the prometheus collectors for the session lifecycle.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsError     prometheus.Counter
	SessionsTimeout   prometheus.Counter
	SessionsLive      prometheus.Gauge
	SoftCapExceeded   prometheus.Counter
}

// New registers termexecd's collectors against reg and returns the handle
// used to record session events. Pass prometheus.NewRegistry() for an
// isolated registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "termexecd_sessions_started_total",
			Help: "Total number of sessions created by run().",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "termexecd_sessions_completed_total",
			Help: "Total number of sessions that reached status completed.",
		}),
		SessionsError: factory.NewCounter(prometheus.CounterOpts{
			Name: "termexecd_sessions_error_total",
			Help: "Total number of sessions that reached status error.",
		}),
		SessionsTimeout: factory.NewCounter(prometheus.CounterOpts{
			Name: "termexecd_sessions_timeout_total",
			Help: "Total number of sessions killed by their timeoutMs.",
		}),
		SessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termexecd_sessions_live",
			Help: "Number of sessions tracked by the store as of the last list() call.",
		}),
		SoftCapExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "termexecd_sessions_soft_cap_exceeded_total",
			Help: "Total number of run() calls that landed while MAX_SESSIONS was already exceeded.",
		}),
	}
}

// RecordTerminal increments the counter matching a session's terminal
// status. completed is true for status completed (regardless of exit
// code: a nonzero exit still reaches completed); false means status
// error. timedOut additionally distinguishes a timeout-kill from any
// other adapter error, both of which land in status error.
func (m *Metrics) RecordTerminal(completed bool, timedOut bool) {
	switch {
	case completed:
		m.SessionsCompleted.Inc()
	case timedOut:
		m.SessionsTimeout.Inc()
		m.SessionsError.Inc()
	default:
		m.SessionsError.Inc()
	}
}

// Serve starts a "/metrics" scrape endpoint on addr, backed by reg, and
// blocks until ctx is canceled or the listener fails. Metrics live outside
// the JSON-RPC stdio channel, so they get their own small HTTP server
// rather than sharing stdout with tool results.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, reg)
}

// ServeListener is Serve over an already-bound listener, so a caller (or a
// test) that needs to know the actual ephemeral port can bind it first.
func ServeListener(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	metricsLog.Info("metrics_server_start", slog.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
