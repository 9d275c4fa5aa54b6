// Package metrics exposes Prometheus gauges for the transcoder
// supervisor's live session count and per-camera uptime, and the
// recording manager's in-progress job count (SPEC_FULL §4.F). Grounded
// on the teacher's own internal/metrics.Collector: an owned
// prometheus.Registry, a ticker-driven poll loop rather than push
// updates from the pollable components, and promhttp.HandlerFor serving
// that private registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/stream"
)

const pollInterval = 2 * time.Second

// Collector polls the stream supervisor and recording manager on an
// interval and exposes the results as Prometheus gauges.
type Collector struct {
	streaming *stream.Supervisor
	recording *recording.Manager

	registry *prometheus.Registry

	liveSessions  prometheus.Gauge
	cameraUptime  *prometheus.GaugeVec
	recordingJobs prometheus.Gauge
}

// NewCollector builds a Collector backed by its own registry, isolated
// from the default global one so a process embedding this package never
// collides with another component's metric names.
func NewCollector(streaming *stream.Supervisor, rec *recording.Manager) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		streaming: streaming,
		recording: rec,
		registry:  reg,
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camdeck_live_sessions",
			Help: "Number of cameras currently streaming live HLS.",
		}),
		cameraUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camdeck_camera_stream_uptime_seconds",
			Help: "Seconds since a camera's live session started.",
		}, []string{"camera_id"}),
		recordingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camdeck_recording_jobs",
			Help: "Number of cameras currently recording.",
		}),
	}

	reg.MustRegister(c.liveSessions, c.cameraUptime, c.recordingJobs)
	return c
}

// Start runs the poll loop until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Handler serves this Collector's private registry in the Prometheus
// text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) collect() {
	cams := c.streaming.StreamingCameras()
	c.liveSessions.Set(float64(len(cams)))

	c.cameraUptime.Reset()
	for _, id := range cams {
		startedAt, ok := c.streaming.SessionStartedAt(id)
		if !ok {
			continue
		}
		c.cameraUptime.WithLabelValues(fmt.Sprint(id)).Set(time.Since(startedAt).Seconds())
	}

	c.recordingJobs.Set(float64(len(c.recording.RecordingCameras())))
}
