// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package workerpool drives N parallel executors, each with its own
// SplitMix64 seed stream, round-robining those seeds through pre-resolved
// function targets and feeding successes into the local sketch bank. The
// workers share the targets' closures and the engine.Store those closures
// were resolved against; no worker has a Store of its own.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btclog"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/engine"
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

// FunctionTarget is one function a worker should drive: its bank slot id
// and the typed call to invoke.
type FunctionTarget struct {
	SlotID uint64
	Call   engine.TypedFunc
}

// Stats are the atomic counters the pool accumulates across all workers.
// Every field must only be mutated via the sync/atomic package.
type Stats struct {
	LocalExecutions uint64
	ModuleFailures  uint64
}

// Pool runs NumWorkers goroutines, each driving the same ordered list of
// pre-resolved function targets round-robin against the shared Bank. A
// target's engine.TypedFunc closure already carries whatever engine.Store
// it was resolved against; workers share those closures rather than each
// owning a private Store.
type Pool struct {
	NumWorkers int
	Bank       *bank.Bank
	Targets    []FunctionTarget
	Stats      Stats

	// Metrics mirrors Stats into Prometheus collectors; nil disables this,
	// matching aggregator.Aggregator's nil-metrics convention. Per spec.md
	// 5, the client never serves these on an HTTP endpoint (no inbound
	// port on an untrusted worker host) — only cmd/powserver does.
	Metrics *obsv.ClientMetrics
}

// New returns a Pool ready to Run, driving targets (already resolved
// against whatever engine.Store the caller set up) across numWorkers
// goroutines.
func New(numWorkers int, b *bank.Bank, targets []FunctionTarget) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		NumWorkers: numWorkers,
		Bank:       b,
		Targets:    targets,
	}
}

// Run launches NumWorkers goroutines and blocks until ctx is canceled and
// every worker has observed shutdown and returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.NumWorkers)
	for i := 0; i < p.NumWorkers; i++ {
		go func(workerIndex int) {
			defer wg.Done()
			p.workerLoop(ctx, workerIndex)
		}(i)
	}
	wg.Wait()
}

// workerLoop is the per-worker loop described in spec.md 4.D: while not shut
// down, cycle through all targets round-robin, generating one seed and
// invoking one call per target per pass.
func (p *Pool) workerLoop(ctx context.Context, workerIndex int) {
	log.Tracef("worker %d starting", workerIndex)
	gen := NewSeedGenerator(workerIndex)

	for {
		select {
		case <-ctx.Done():
			log.Tracef("worker %d shutting down", workerIndex)
			return
		default:
		}

		for _, target := range p.Targets {
			select {
			case <-ctx.Done():
				return
			default:
			}

			seed := gen.Next()
			hash, err := target.Call(ctx, seed)
			if err != nil {
				atomic.AddUint64(&p.Stats.ModuleFailures, 1)
				if p.Metrics != nil {
					p.Metrics.ModuleFailures.Inc()
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}

			atomic.AddUint64(&p.Stats.LocalExecutions, 1)
			if p.Metrics != nil {
				p.Metrics.LocalExecutions.Inc()
			}
			p.Bank.ObserveLocal(target.SlotID, seed, hash)
		}
	}
}
