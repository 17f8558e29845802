// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package aggregator implements the Server Aggregator of spec.md 4.F: the
// single-shot merge of a client submission into a function's persisted
// min-hash sketch, safe under concurrent writers because register
// point-updates are commutative (min over a lattice).
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"

	"github.com/provetest/hllswarm/hll"
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

// ErrFunctionNotFound is returned by Submit when the function is unknown
// and the request did not carry enough information (module id and
// function name) to create it, per spec.md 4.F step 1.
var ErrFunctionNotFound = errors.New("aggregator: function not found")

// maxCASAttempts bounds the read-modify-CAS-retry loop; point-updates are
// commutative so a lost race always succeeds on a subsequent re-read.
const maxCASAttempts = 8

// FunctionRecord is the persisted state of one function's sketch.
type FunctionRecord struct {
	FunctionID       int64
	ModuleID         int64
	FunctionName     string
	Bits             uint8
	Registers        []uint64
	SubmittedUpdates int64
	// WitnessSeed and WitnessHash record the lowest hash ever accepted for
	// this function across all registers, the evidence of work spec.md
	// 4.F step 3 asks to retain.
	WitnessSeed uint64
	WitnessHash uint64
}

// Store persists FunctionRecords. Implementations must make CompareAndSwap
// atomic with respect to concurrent callers racing the same functionID;
// leveldbstore.Store does this with a database transaction.
type Store interface {
	Get(ctx context.Context, functionID int64) (FunctionRecord, bool, error)
	Create(ctx context.Context, functionID, moduleID int64, functionName string, bits uint8) (FunctionRecord, error)
	// CompareAndSwap replaces expected with next only if the currently
	// stored record is still byte-identical to expected. Returns false
	// (no error) on a lost race so the caller re-reads and retries.
	CompareAndSwap(ctx context.Context, functionID int64, expected, next FunctionRecord) (bool, error)
}

// SubmitRequest is one client submission.
type SubmitRequest struct {
	FunctionID   int64
	ModuleID     int64
	FunctionName string
	Seed         uint64
	Hash         uint64
	// DefaultBits is used only if the function row must be created.
	DefaultBits uint8
}

// SubmitResult mirrors the wire response of POST /api/test-results.
type SubmitResult struct {
	Improved         bool
	EstimatedTests   float64
	SubmittedUpdates int64
}

// Aggregator merges submissions into a Store.
type Aggregator struct {
	store   Store
	metrics *obsv.ServerMetrics
}

// New returns an Aggregator backed by store. metrics may be nil, in which
// case merge counters are simply not recorded.
func New(store Store, metrics *obsv.ServerMetrics) *Aggregator {
	return &Aggregator{store: store, metrics: metrics}
}

// Submit implements the single-shot merge of spec.md 4.F.
func (a *Aggregator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if a.metrics != nil {
			a.metrics.MergeAttempts.Inc()
		}

		current, found, err := a.store.Get(ctx, req.FunctionID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("aggregator: get: %w", err)
		}
		if !found {
			if req.FunctionName == "" {
				return SubmitResult{}, ErrFunctionNotFound
			}
			bits := req.DefaultBits
			if bits == 0 {
				bits = hll.DefaultBits
			}
			current, err = a.store.Create(ctx, req.FunctionID, req.ModuleID, req.FunctionName, bits)
			if err != nil {
				return SubmitResult{}, fmt.Errorf("aggregator: create: %w", err)
			}
			found = true
		}

		register := int(req.Hash & uint64(len(current.Registers)-1))
		if register < 0 || register >= len(current.Registers) {
			return SubmitResult{}, fmt.Errorf("aggregator: register %d out of range for %d registers", register, len(current.Registers))
		}

		if req.Hash >= current.Registers[register] {
			// Not an improvement: no write, estimate unchanged.
			return SubmitResult{
				Improved:         false,
				EstimatedTests:   estimate(current),
				SubmittedUpdates: current.SubmittedUpdates,
			}, nil
		}

		next := current
		next.Registers = append([]uint64(nil), current.Registers...)
		next.Registers[register] = req.Hash
		next.SubmittedUpdates = current.SubmittedUpdates + 1
		if current.SubmittedUpdates == 0 || req.Hash < current.WitnessHash {
			next.WitnessSeed = req.Seed
			next.WitnessHash = req.Hash
		}

		ok, err := a.store.CompareAndSwap(ctx, req.FunctionID, current, next)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("aggregator: compare-and-swap: %w", err)
		}
		if !ok {
			if a.metrics != nil {
				a.metrics.MergeRetries.Inc()
			}
			log.Debugf("aggregator: lost CAS race on function %d, attempt %d, retrying", req.FunctionID, attempt+1)
			continue
		}

		if a.metrics != nil {
			a.metrics.MergeImproved.Inc()
		}
		result := SubmitResult{
			Improved:         true,
			EstimatedTests:   estimate(next),
			SubmittedUpdates: next.SubmittedUpdates,
		}
		log.Tracef("function %d improved register %d: %v", req.FunctionID, register, spew.Sdump(result))
		return result, nil
	}

	return SubmitResult{}, fmt.Errorf("aggregator: exceeded %d compare-and-swap attempts for function %d", maxCASAttempts, req.FunctionID)
}

// EstimateRecord exposes estimate for callers outside the package (e.g. a
// Catalog populating RepositorySummary.EstimatedTests from stored state).
func EstimateRecord(rec FunctionRecord) float64 {
	return estimate(rec)
}

// estimate reconstructs an hll.Sketch from rec's registers solely to reuse
// hll.Sketch.Estimate, avoiding a second HyperLogLog implementation on the
// server side.
func estimate(rec FunctionRecord) float64 {
	s := hll.New(rec.Bits)
	for r, v := range rec.Registers {
		if v != hll.Sentinel {
			s.SetRegister(r, v)
		}
	}
	return s.Estimate()
}
