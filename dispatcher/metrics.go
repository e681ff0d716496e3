package dispatcher

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const statusError = "error"

var dimensions = []string{"method", "status", "remote_service"}

// Metrics records the latency of dispatched calls.
// A nil *Metrics records nothing.
type Metrics struct {
	latency *prometheus.HistogramVec
}

// NewMetrics registers the client request histogram to reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
// It panics if the histogram is already registered to reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_client_requests_seconds",
				Help:      "Outbound HTTP request duration in seconds.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5, 10},
			},
			dimensions,
		),
	}
}

func (m *Metrics) observe(method string, resp *Response, err error, remoteServiceName string, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := statusError
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	sec := float64(elapsed) / float64(time.Second)
	m.latency.WithLabelValues(method, status, remoteServiceName).Observe(sec)
}
