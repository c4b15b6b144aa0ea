package core

import (
	"context"
	"sync"
)

// Pipeline counters. Observer prefixes every name with "debouncer.".
const (
	MetricBatchFinalized   = "batch_finalized.total"
	MetricBatchDiscarded   = "discarded.total"
	MetricMalformedBatch   = "malformed_batch.total"
	MetricAuditDropped     = "audit_dropped.total"
	MetricAuditWriteFailed = "audit_write_failed.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// CounterRecorder keeps counter totals and histogram sample counts in
// process. Tags are ignored.
type CounterRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
	samples  map[string]int
}

func NewCounterRecorder() *CounterRecorder {
	return &CounterRecorder{
		counters: map[string]int64{},
		samples:  map[string]int{},
	}
}

func (r *CounterRecorder) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}

func (r *CounterRecorder) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name]++
}

// Counter returns the total for a pipeline counter, with or without the
// "debouncer." prefix.
func (r *CounterRecorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total, ok := r.counters[name]; ok {
		return total
	}
	return r.counters[metricPrefix+name]
}

func (r *CounterRecorder) Samples(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if count, ok := r.samples[name]; ok {
		return count
	}
	return r.samples[metricPrefix+name]
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*CounterRecorder)(nil)
)
