// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package obsv holds the small observability primitives shared by the
// client and server: a lock-free float64 accumulator and the Prometheus
// registrations both sides expose on /metrics.
package obsv

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Float64 is an accumulating float64 counter updated via a
// compare-and-swap loop on its IEEE-754 bit pattern, per spec.md 5's
// "for f64 accumulators, use a CAS loop on the bit pattern" instruction —
// sync/atomic has no native float64 primitive.
type Float64 struct {
	bits uint64
}

// Add atomically adds delta to the accumulator and returns the new total.
// delta may be negative; callers that only ever want to accumulate gains
// are expected to clamp at the call site (the submission pipeline does
// this per spec.md 4.E's max(0, ...) rule).
func (f *Float64) Add(delta float64) float64 {
	for {
		old := atomic.LoadUint64(&f.bits)
		oldF := math.Float64frombits(old)
		newF := oldF + delta
		newBits := math.Float64bits(newF)
		if atomic.CompareAndSwapUint64(&f.bits, old, newBits) {
			return newF
		}
	}
}

// Load returns the current accumulated value.
func (f *Float64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&f.bits))
}

// ClientMetrics are the Prometheus collectors exposed by cmd/powclient.
type ClientMetrics struct {
	LocalExecutions prometheus.Counter
	ModuleFailures  prometheus.Counter
	Submissions     prometheus.Counter
	DroppedSubmits  prometheus.Counter
	CumulativeGain  prometheus.Gauge
}

// NewClientMetrics constructs and registers the client's collectors against
// reg. Passing a fresh prometheus.NewRegistry() in tests avoids colliding
// with the global DefaultRegisterer across parallel test runs.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		LocalExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powclient",
			Name:      "local_executions_total",
			Help:      "Sandboxed calls completed across all workers.",
		}),
		ModuleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powclient",
			Name:      "module_failures_total",
			Help:      "Sandboxed calls that returned an error.",
		}),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powclient",
			Name:      "submissions_total",
			Help:      "Submissions accepted by the server.",
		}),
		DroppedSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powclient",
			Name:      "submissions_dropped_total",
			Help:      "Submissions abandoned after permanent rejection or retry exhaustion.",
		}),
		CumulativeGain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "powclient",
			Name:      "cumulative_estimate_gain",
			Help:      "Sum of non-negative estimated_tests deltas observed so far.",
		}),
	}
	reg.MustRegister(m.LocalExecutions, m.ModuleFailures, m.Submissions, m.DroppedSubmits, m.CumulativeGain)
	return m
}

// ServerMetrics are the Prometheus collectors exposed by cmd/powserver.
type ServerMetrics struct {
	MergeAttempts prometheus.Counter
	MergeRetries  prometheus.Counter
	MergeImproved prometheus.Counter
}

// NewServerMetrics constructs and registers the server's collectors.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		MergeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powserver",
			Name:      "merge_attempts_total",
			Help:      "CompareAndSwap attempts made across all submissions.",
		}),
		MergeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powserver",
			Name:      "merge_retries_total",
			Help:      "CompareAndSwap attempts that lost a race and retried.",
		}),
		MergeImproved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "powserver",
			Name:      "merge_improved_total",
			Help:      "Submissions that strictly improved a register.",
		}),
	}
	reg.MustRegister(m.MergeAttempts, m.MergeRetries, m.MergeImproved)
	return m
}
