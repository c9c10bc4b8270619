// ============================================================================
// litewal Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose replication metrics for Prometheus.
//
// Metric Categories:
//
//   1. Counters - cumulative, monotonically increasing:
//      - litewal_frames_submitted_total: frames handed to the façade
//      - litewal_frames_uploaded_total: frames successfully uploaded
//      - litewal_commits_total: commit frames finalized
//      - litewal_crc_mismatches_total: CRC chain breaks detected on decode
//      - litewal_restores_total: restore operations performed
//
//   2. Histograms - distribution stats:
//      - litewal_batch_upload_seconds: time to encode+upload one batch
//      - litewal_restore_seconds: time to complete a full restore
//
//   3. Gauges - instantaneous values:
//      - litewal_last_committed_frame: highest durably committed frame
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus. OpenMetrics / text
//   format, same shape as any other client_golang collector.
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects replication-facing Prometheus metrics.
type Collector struct {
	framesSubmitted prometheus.Counter
	framesUploaded  prometheus.Counter
	commits         prometheus.Counter
	crcMismatches   prometheus.Counter
	restores        prometheus.Counter

	batchUploadSeconds prometheus.Histogram
	restoreSeconds     prometheus.Histogram

	lastCommittedFrame prometheus.Gauge
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		framesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litewal_frames_submitted_total",
			Help: "Total number of WAL frames submitted to the replicator.",
		}),
		framesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litewal_frames_uploaded_total",
			Help: "Total number of WAL frames successfully uploaded.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litewal_commits_total",
			Help: "Total number of commit frames finalized as consistent.",
		}),
		crcMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litewal_crc_mismatches_total",
			Help: "Total number of CRC chain breaks detected while decoding batches.",
		}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litewal_restores_total",
			Help: "Total number of restore operations performed.",
		}),
		batchUploadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "litewal_batch_upload_seconds",
			Help:    "Time to encode and upload one frame batch.",
			Buckets: prometheus.DefBuckets,
		}),
		restoreSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "litewal_restore_seconds",
			Help:    "Time to complete a full restore operation.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		lastCommittedFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "litewal_last_committed_frame",
			Help: "Highest WAL frame number known to be durably committed.",
		}),
	}

	prometheus.MustRegister(
		c.framesSubmitted,
		c.framesUploaded,
		c.commits,
		c.crcMismatches,
		c.restores,
		c.batchUploadSeconds,
		c.restoreSeconds,
		c.lastCommittedFrame,
	)

	return c
}

// RecordFramesSubmitted records frameCount new frames submitted locally.
func (c *Collector) RecordFramesSubmitted(frameCount int) {
	c.framesSubmitted.Add(float64(frameCount))
}

// RecordBatchUpload records one completed batch upload: its frame
// count and wall-clock duration.
func (c *Collector) RecordBatchUpload(frameCount int, seconds float64) {
	c.framesUploaded.Add(float64(frameCount))
	c.batchUploadSeconds.Observe(seconds)
}

// RecordCommit records a commit frame being finalized as consistent.
func (c *Collector) RecordCommit(frameNo uint32) {
	c.commits.Inc()
	c.lastCommittedFrame.Set(float64(frameNo))
}

// RecordCrcMismatch records a detected CRC chain break.
func (c *Collector) RecordCrcMismatch() {
	c.crcMismatches.Inc()
}

// RecordRestore records one completed restore and its duration.
func (c *Collector) RecordRestore(seconds float64) {
	c.restores.Inc()
	c.restoreSeconds.Observe(seconds)
}

// StartServer starts the Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
