// Package metrics records operational metrics from the lead pipeline behind a
// narrow Backend interface.
//
// The installed backend defaults to a no-op, so instrumentation is always
// safe to call. Concrete systems live in subpackages (prompush for a
// Prometheus Pushgateway, datadog for DogStatsD) and are selected at startup
// with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal       = "leadetl_step_total"
	StepDuration    = "leadetl_step_duration_seconds"
	RecordsTotal    = "leadetl_records_total"
	BatchesTotal    = "leadetl_batches_total"
	DuplicatesTotal = "leadetl_duplicates_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline stage (intake, mapping,
// dedupe, cleaning, normalization, tagging, dnc, commit) and its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter. Kinds mirror BatchStats:
// "uploaded", "clean", "duplicate", "dnc", "inserted", "failed".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches counts committed upload batches by final status.
func RecordBatches(job, status string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{
		"job":    job,
		"status": status,
	})
}

// RecordDuplicates counts duplicate matches by match type.
func RecordDuplicates(job, matchType string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(DuplicatesTotal, float64(delta), Labels{
		"job":  job,
		"type": matchType,
	})
}
