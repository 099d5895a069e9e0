// Package metrics exposes the process's Prometheus instrumentation:
// stream lifecycle, ingress frame/segment counters, and HTTP/RTMP
// transport counters. Carried over from the teacher's metrics package
// almost unchanged in shape (the same promauto-registered Gauge/
// Counter/Histogram/Vec fields and Record* method set), rebranded to
// this module's metric namespace and with the viewer-session gauges
// dropped: a pull-based HLS reader has no connection-close signal the
// way an RTMP viewer session did, so a never-decrementing "active
// viewers" gauge would be worse than not exposing one.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the publisher process.
type Metrics struct {
	// Stream metrics
	ActiveStreams  prometheus.Gauge
	TotalStreams   prometheus.Counter
	StreamsStarted prometheus.Counter
	StreamsStopped prometheus.Counter
	StreamDuration prometheus.Histogram

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	FrameSize      *prometheus.HistogramVec
	KeyFrames      prometheus.Counter

	// Segment metrics
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram
	SegmentsStored  prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// RTMP metrics
	RTMPConnections   prometheus.Counter
	RTMPDisconnects   prometheus.Counter
	RTMPErrors        prometheus.Counter
	RTMPBytesReceived prometheus.Counter

	// Dump metrics
	DumpWrites   *prometheus.CounterVec
	DumpFailures *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "llhls_active_streams",
			Help: "Number of currently published streams",
		}),
		TotalStreams: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_total_streams",
			Help: "Total number of streams since server start",
		}),
		StreamsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_streams_started_total",
			Help: "Total number of streams that reached Started",
		}),
		StreamsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_streams_stopped_total",
			Help: "Total number of streams stopped",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "llhls_stream_duration_seconds",
			Help:    "Duration of streams in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),

		FramesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llhls_frames_received_total",
				Help: "Total number of media frames received",
			},
			[]string{"stream_key", "type"}, // type: video or audio
		),
		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llhls_frames_dropped_total",
				Help: "Total number of frames dropped",
			},
			[]string{"stream_key", "reason"},
		),
		FrameSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llhls_frame_size_bytes",
				Help:    "Size of frames in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
			},
			[]string{"type"},
		),
		KeyFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_keyframes_total",
			Help: "Total number of keyframes received",
		}),

		SegmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_segments_created_total",
			Help: "Total number of closed HLS segments",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "llhls_segment_duration_seconds",
			Help:    "Duration of closed HLS segments",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "llhls_segment_size_bytes",
			Help:    "Size of closed HLS segments in bytes",
			Buckets: prometheus.ExponentialBuckets(10240, 2, 10), // 10KB to ~5MB
		}),
		SegmentsStored: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "llhls_segments_stored",
			Help: "Number of segments currently resident across all tracks",
		}),

		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llhls_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llhls_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RTMPConnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_rtmp_connections_total",
			Help: "Total number of RTMP publisher connections",
		}),
		RTMPDisconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_rtmp_disconnects_total",
			Help: "Total number of RTMP disconnections",
		}),
		RTMPErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_rtmp_errors_total",
			Help: "Total number of RTMP ingest errors",
		}),
		RTMPBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "llhls_rtmp_bytes_received_total",
			Help: "Total bytes received via RTMP",
		}),

		DumpWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llhls_dump_writes_total",
				Help: "Total number of artifact writes issued by dump targets",
			},
			[]string{"dump_id"},
		),
		DumpFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llhls_dump_write_failures_total",
				Help: "Total number of failed artifact writes by dump targets",
			},
			[]string{"dump_id"},
		),
	}
}

// Handler returns the gin handler serving /metrics.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordStreamStart records a stream reaching Started.
func (m *Metrics) RecordStreamStart() {
	m.ActiveStreams.Inc()
	m.TotalStreams.Inc()
	m.StreamsStarted.Inc()
}

// RecordStreamStop records a stream stopping, durationSeconds being
// its lifetime from Start to Stop.
func (m *Metrics) RecordStreamStop(durationSeconds float64) {
	m.ActiveStreams.Dec()
	m.StreamsStopped.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFrame records an ingress media frame.
func (m *Metrics) RecordFrame(streamKey string, isVideo bool, size int) {
	frameType := "audio"
	if isVideo {
		frameType = "video"
	}
	m.FramesReceived.WithLabelValues(streamKey, frameType).Inc()
	m.FrameSize.WithLabelValues(frameType).Observe(float64(size))
}

// RecordKeyFrame records a keyframe.
func (m *Metrics) RecordKeyFrame() {
	m.KeyFrames.Inc()
}

// RecordFrameDropped records a dropped frame (e.g. pre-roll overflow,
// unsupported bitstream format on a data track).
func (m *Metrics) RecordFrameDropped(streamKey, reason string) {
	m.FramesDropped.WithLabelValues(streamKey, reason).Inc()
}

// RecordSegment records a segment closing.
func (m *Metrics) RecordSegment(durationSeconds float64, sizeBytes int64) {
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
	m.SegmentsStored.Inc()
}

// RecordSegmentEvicted records a segment leaving the sliding window.
func (m *Metrics) RecordSegmentEvicted() {
	m.SegmentsStored.Dec()
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordRTMPConnection records an inbound RTMP connection.
func (m *Metrics) RecordRTMPConnection() {
	m.RTMPConnections.Inc()
}

// RecordRTMPDisconnect records an RTMP disconnection.
func (m *Metrics) RecordRTMPDisconnect() {
	m.RTMPDisconnects.Inc()
}

// RecordRTMPError records an RTMP ingest error.
func (m *Metrics) RecordRTMPError() {
	m.RTMPErrors.Inc()
}

// RecordRTMPBytes adds to the RTMP bytes-received counter.
func (m *Metrics) RecordRTMPBytes(n uint64) {
	m.RTMPBytesReceived.Add(float64(n))
}

// RecordDumpWrite records a successful dump artifact write.
func (m *Metrics) RecordDumpWrite(dumpID string) {
	m.DumpWrites.WithLabelValues(dumpID).Inc()
}

// RecordDumpFailure records a failed dump artifact write.
func (m *Metrics) RecordDumpFailure(dumpID string) {
	m.DumpFailures.WithLabelValues(dumpID).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
