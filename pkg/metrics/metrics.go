// Package metrics exposes capture loop metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shader_cam"

type Metrics struct {
	registry *prometheus.Registry

	framesCaptured prometheus.Counter
	captureErrors  *prometheus.CounterVec
	waitSeconds    prometheus.Histogram
	renderSeconds  prometheus.Histogram
	width          prometheus.Gauge
	height         prometheus.Gauge
	buffers        prometheus.Gauge
	subscribers    prometheus.Gauge
	snapshots      prometheus.Counter
	recorded       prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		framesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Frames dequeued from the device",
		}),
		captureErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "errors_total",
			Help:      "Capture failures by kind",
		}, []string{"kind"}),
		waitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frame_seconds",
			Help:      "Time spent waiting for and dequeuing a frame",
			Buckets:   []float64{.005, .01, .02, .033, .05, .1, .2, .5, 1, 2},
		}),
		renderSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "frame_seconds",
			Help:      "Time spent compositing and encoding a frame",
			Buckets:   prometheus.ExponentialBuckets(.001, 2, 10),
		}),
		width: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "width_pixels",
			Help:      "Frame width granted by the driver",
		}),
		height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "height_pixels",
			Help:      "Frame height granted by the driver",
		}),
		buffers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "mapped_buffers",
			Help:      "Capture buffers currently mapped",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "subscribers",
			Help:      "Open preview streams",
		}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "snapshots_total",
			Help:      "Snapshots written to disk",
		}),
		recorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "frames_total",
			Help:      "Frames appended to the recording",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameCaptured(d time.Duration) {
	m.framesCaptured.Inc()
	m.waitSeconds.Observe(d.Seconds())
}

func (m *Metrics) FrameRendered(d time.Duration) {
	m.renderSeconds.Observe(d.Seconds())
}

func (m *Metrics) CaptureError(kind string) {
	m.captureErrors.WithLabelValues(kind).Inc()
}

// SetFormat records the granted frame size and the mapped buffer count.
func (m *Metrics) SetFormat(width, height, buffers int) {
	m.width.Set(float64(width))
	m.height.Set(float64(height))
	m.buffers.Set(float64(buffers))
}

func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

func (m *Metrics) SnapshotSaved() {
	m.snapshots.Inc()
}

func (m *Metrics) FrameRecorded() {
	m.recorded.Inc()
}
