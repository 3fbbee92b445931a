package handler

import (
	"fmt"
	"net/http"

	"github.com/pixelgrove/pixelgrove/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "pixelgrove_logins_total{status=\"success\"} %d\n", snap.LoginSuccesses)
	for reason, count := range snap.LoginFailures {
		writeMetric(w, "pixelgrove_login_failures_total{reason=%q} %d\n", reason, count)
	}

	writeMetric(w, "pixelgrove_users_created_total %d\n", snap.UsersCreated)

	writeMetric(w, "pixelgrove_reconcile_duration_seconds_count %d\n", snap.ReconcileDurationCount)
	writeMetric(w, "pixelgrove_reconcile_duration_seconds_sum %.6f\n", float64(snap.ReconcileDurationTotalNs)/1e9)

	writeMetric(w, "pixelgrove_csrf_rejections_total %d\n", snap.CSRFRejections)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
