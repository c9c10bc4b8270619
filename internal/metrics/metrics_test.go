package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.framesSubmitted, "framesSubmitted counter should be initialized")
	assert.NotNil(t, collector.framesUploaded, "framesUploaded counter should be initialized")
	assert.NotNil(t, collector.commits, "commits counter should be initialized")
	assert.NotNil(t, collector.crcMismatches, "crcMismatches counter should be initialized")
	assert.NotNil(t, collector.restores, "restores counter should be initialized")
	assert.NotNil(t, collector.batchUploadSeconds, "batchUploadSeconds histogram should be initialized")
	assert.NotNil(t, collector.restoreSeconds, "restoreSeconds histogram should be initialized")
	assert.NotNil(t, collector.lastCommittedFrame, "lastCommittedFrame gauge should be initialized")
}

func TestRecordFramesSubmitted(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordFramesSubmitted(3)
	}, "RecordFramesSubmitted should not panic")

	for i := 0; i < 5; i++ {
		collector.RecordFramesSubmitted(1)
	}
}

func TestRecordBatchUpload(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	durations := []float64{0.001, 0.01, 0.1, 1.0, 5.0}
	for _, d := range durations {
		assert.NotPanics(t, func() {
			collector.RecordBatchUpload(64, d)
		}, "RecordBatchUpload should not panic with duration %f", d)
	}
}

func TestRecordCommit(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCommit(42)
	}, "RecordCommit should not panic")
}

func TestRecordCrcMismatch(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCrcMismatch()
	}, "RecordCrcMismatch should not panic")
}

func TestRecordRestore(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	restoreTimes := []float64{0.001, 0.5, 1.5, 3.0}
	for _, rt := range restoreTimes {
		assert.NotPanics(t, func() {
			collector.RecordRestore(rt)
		}, "RecordRestore should not panic with time %f", rt)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordFramesSubmitted(1)
			collector.RecordBatchUpload(1, 0.01)
			collector.RecordCommit(1)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector registered against the same registry panics
	// on duplicate metric registration — a process runs one Collector.
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestMetricOperationSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordFramesSubmitted(64)
		collector.RecordBatchUpload(64, 0.2)
		collector.RecordCommit(64)
	}, "a full submit-upload-commit sequence should not panic")
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordBatchUpload(0, 0.0)
		collector.RecordRestore(0.0)
		collector.RecordFramesSubmitted(0)
	}, "edge case values should not panic")
}
