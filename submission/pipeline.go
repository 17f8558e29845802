// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package submission implements the Submission Pipeline: a single
// cooperative loop, logically independent of the worker pool, that drains
// the Local Sketch Bank's improving samples to the catalog server and
// folds acknowledgments back into the bank's mirror.
package submission

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/catalog"
	"github.com/provetest/hllswarm/internal/obsv"
)

var log btclog.Logger

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

const (
	// maxAttempts bounds retries per spec.md 7/8 property 12.
	maxAttempts = 3
	// retryBackoff is the cancellable sleep between attempts.
	retryBackoff = 100 * time.Millisecond
)

// Metrics is a point-in-time snapshot of the pipeline's counters, suitable
// for a status line or a Prometheus exporter.
type Metrics struct {
	Submitted      uint64
	Dropped        uint64
	CumulativeGain float64
	LastError      string
}

// Pipeline owns the catalog client, the cumulative-gain accumulator, and
// the per-function last-acknowledged-estimate table; it drains bank.Bank
// and feeds acks back into it.
type Pipeline struct {
	client *catalog.Client
	bank   *bank.Bank

	cumulativeGain obsv.Float64

	submitted uint64 // atomic
	dropped   uint64 // atomic

	errMu     sync.Mutex
	lastError string

	// estimates tracks, per slot id, the last server-reported
	// estimated_tests so only the delta is folded into cumulativeGain.
	// Only Run's single goroutine touches this map.
	estimates map[uint64]float64

	// metrics mirrors the pipeline's counters into Prometheus collectors;
	// nil disables this. Per spec.md 5 the client never serves these over
	// HTTP, only writes them to its status line.
	metrics *obsv.ClientMetrics
}

// New returns a Pipeline draining b through client. metrics may be nil.
func New(client *catalog.Client, b *bank.Bank, metrics *obsv.ClientMetrics) *Pipeline {
	return &Pipeline{
		client:    client,
		bank:      b,
		estimates: make(map[uint64]float64),
		metrics:   metrics,
	}
}

// Run blocks, draining submissions from the bank until ctx is canceled.
// Each iteration asks the bank for the best candidate; if none is ready it
// waits on either the bank's notification channel or ctx.Done.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			log.Tracef("submission pipeline shutting down")
			return
		}

		sub, ok := p.bank.NextSubmission()
		if !ok {
			select {
			case <-p.bank.Notify():
			case <-ctx.Done():
				return
			}
			continue
		}

		p.submit(ctx, sub)
	}
}

// submit attempts to POST sub, retrying per spec.md 7, and updates the
// pipeline's counters and the bank's mirror on success.
func (p *Pipeline) submit(ctx context.Context, sub bank.Submission) {
	req := catalog.SubmitTestResultRequest{
		FunctionID: sub.FunctionID,
		Seed:       strconv.FormatUint(sub.Seed, 10),
		Hash:       strconv.FormatUint(sub.Hash, 10),
	}
	if sub.ModuleID != 0 {
		moduleID := sub.ModuleID
		req.WasmFileID = &moduleID
	}
	if sub.FunctionName != "" {
		name := sub.FunctionName
		req.FunctionName = &name
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := p.client.SubmitTestResult(ctx, req)
		if err == nil {
			p.onAccepted(sub, resp)
			return
		}

		if !p.retryable(err) || attempt == maxAttempts {
			p.onDropped(err)
			return
		}

		log.Debugf("submission attempt %d/%d failed, retrying: %v", attempt, maxAttempts, err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			p.onDropped(ctx.Err())
			return
		}
	}
}

// retryable classifies err per spec.md 7: transport failures, 5xx, and
// 429 are retried; everything else is a permanent rejection.
func (p *Pipeline) retryable(err error) bool {
	switch e := err.(type) {
	case *catalog.TransportError:
		return true
	case *catalog.DecodeError:
		return true
	case *catalog.StatusError:
		return e.Retryable()
	default:
		return false
	}
}

func (p *Pipeline) onAccepted(sub bank.Submission, resp catalog.SubmitTestResultResponse) {
	atomic.AddUint64(&p.submitted, 1)
	p.setLastError("")
	if p.metrics != nil {
		p.metrics.Submissions.Inc()
	}

	if resp.Improved {
		prev := p.estimates[sub.SlotID]
		delta := resp.EstimatedTests - prev
		if delta < 0 {
			delta = 0
		}
		total := p.cumulativeGain.Add(delta)
		p.estimates[sub.SlotID] = resp.EstimatedTests
		if p.metrics != nil {
			p.metrics.CumulativeGain.Set(total)
		}
	}

	p.bank.ApplyServerAck(sub.SlotID, sub.Register, sub.Hash)
}

func (p *Pipeline) onDropped(err error) {
	atomic.AddUint64(&p.dropped, 1)
	p.setLastError(err.Error())
	if p.metrics != nil {
		p.metrics.DroppedSubmits.Inc()
	}
	log.Warnf("submission dropped: %v", err)
}

func (p *Pipeline) setLastError(msg string) {
	p.errMu.Lock()
	p.lastError = msg
	p.errMu.Unlock()
}

// Snapshot returns the pipeline's current metrics.
func (p *Pipeline) Snapshot() Metrics {
	p.errMu.Lock()
	lastError := p.lastError
	p.errMu.Unlock()

	return Metrics{
		Submitted:      atomic.LoadUint64(&p.submitted),
		Dropped:        atomic.LoadUint64(&p.dropped),
		CumulativeGain: p.cumulativeGain.Load(),
		LastError:      lastError,
	}
}
