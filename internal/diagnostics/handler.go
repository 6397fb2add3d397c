package diagnostics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the standard Prometheus exposition handler,
// meant to be mounted at /metrics by the operator-facing HTTP surface.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
