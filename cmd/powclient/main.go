// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command powclient drives the distributed proof-of-work cardinality
// estimation client: it fetches a repository's module catalog, runs a
// worker pool against each exported function, and submits improving
// min-hash samples back to the server.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/catalog"
	"github.com/provetest/hllswarm/engine"
	"github.com/provetest/hllswarm/engine/native"
	"github.com/provetest/hllswarm/internal/cancel"
	"github.com/provetest/hllswarm/internal/logging"
	"github.com/provetest/hllswarm/internal/obsv"
	"github.com/provetest/hllswarm/submission"
	"github.com/provetest/hllswarm/workerpool"
)

// config holds the flags accepted by powclient, following the btcd-style
// jessevdk/go-flags idiom: long-named fields parsed via struct tags into
// flags.NewParser(&cfg, flags.Default).
type config struct {
	BaseURL       string `long:"base-url" description:"catalog server base URL" required:"true"`
	Cores         int    `long:"cores" description:"number of worker goroutines" default:"0"`
	HLLBits       uint8  `long:"hll-bits" description:"default register-selection width" default:"12"`
	Owner         string `long:"owner" description:"repository owner to work against" required:"true"`
	Repo          string `long:"repo" description:"repository name to work against" required:"true"`
	MirrorRefresh bool   `long:"mirror-refresh" description:"periodically re-seed mirrors from GET /hll-state"`
	LogLevel      string `long:"loglevel" description:"log level: trace, debug, info, warn, error, critical" default:"info"`
	LogFile       string `long:"logfile" description:"also write logs to this rotated file"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}

	logs, err := logging.New(cfg.LogFile, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "powclient: cannot initialize logging: %v\n", err)
		return 1
	}
	defer logs.Close()

	log := logs.Logger("POWC", cfg.LogLevel)
	wireLoggers(logs, cfg.LogLevel)

	numWorkers := cfg.Cores
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	tok := cancel.New(context.Background())
	defer tok.WatchSignals()()
	defer cancel.WatchStdin(tok, os.Stdin.Fd())()

	client := catalog.New(cfg.BaseURL)
	b := bank.New(nil)
	eng := native.New()
	go engine.NewTimekeeper(eng, 0).Run(tok.Context())

	tree, err := client.LatestCatalog(tok.Context(), cfg.Owner, cfg.Repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "powclient: cannot fetch catalog for %s/%s: %v\n", cfg.Owner, cfg.Repo, err)
		return 1
	}

	var targets []workerpool.FunctionTarget
	for _, file := range tree.Files {
		moduleBytes, err := client.ModuleBytes(tok.Context(), file.ID)
		if err != nil {
			log.Warnf("skipping module %d: %v", file.ID, err)
			continue
		}
		module, err := eng.Compile(moduleBytes)
		if err != nil {
			log.Warnf("skipping module %d: compile: %v", file.ID, err)
			continue
		}
		for _, fn := range file.Functions {
			if err := native.Register(module, native.Func{Name: fn.Name, Call: native.Blake2HashFunc()}); err != nil {
				log.Warnf("skipping function %s: register: %v", fn.Name, err)
			}
		}
		store := eng.NewStore()
		instance, err := eng.Instantiate(module, store)
		if err != nil {
			log.Warnf("skipping module %d: instantiate: %v", file.ID, err)
			continue
		}

		for _, fn := range file.Functions {
			typed, err := eng.ResolveTyped(instance, fn.Name)
			if err != nil {
				log.Warnf("skipping function %s: %v", fn.Name, err)
				continue
			}

			bits := cfg.HLLBits
			var snapshot []uint64
			if state, err := client.HLLState(tok.Context(), file.ID); err == nil {
				for _, fs := range state.Functions {
					if fs.FunctionID == fn.ID {
						bits = fs.HLLBits
						snapshot = decodeHashes(fs.Hashes)
					}
				}
			}

			slot := bank.NewSlot(fn.ID, file.ID, fn.Name, bits)
			b.AddSlot(uint64(fn.ID), slot)
			b.SeedMirrorFromSnapshot(uint64(fn.ID), snapshot)
			targets = append(targets, workerpool.FunctionTarget{SlotID: uint64(fn.ID), Call: typed})
		}
	}

	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "powclient: no functions resolved, aborting")
		return 1
	}

	// metricsReg is never served over HTTP: a worker host accepts no
	// inbound connections, per spec.md 5. The counters still back the
	// status line's numbers via pool.Stats/pipeline.Snapshot.
	metricsReg := prometheus.NewRegistry()
	clientMetrics := obsv.NewClientMetrics(metricsReg)

	pool := workerpool.New(numWorkers, b, targets)
	pool.Metrics = clientMetrics
	pipeline := submission.New(client, b, clientMetrics)

	done := make(chan struct{})
	go func() {
		pool.Run(tok.Context())
		close(done)
	}()
	go pipeline.Run(tok.Context())

	if cfg.MirrorRefresh {
		go runMirrorRefresh(tok.Context(), client, b)
	}

	printStatusUntilDone(tok, pool, pipeline, done)
	<-done

	if tok.Canceled() {
		return 130
	}
	return 0
}

func printStatusUntilDone(tok *cancel.Token, pool *workerpool.Pool, pipeline *submission.Pipeline, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-tok.Done():
			return
		default:
		}
		snap := pipeline.Snapshot()
		fmt.Printf("\r%s executions=%d failures=%d submitted=%d dropped=%d gain=%.1f",
			color.CyanString("powclient"),
			pool.Stats.LocalExecutions, pool.Stats.ModuleFailures,
			snap.Submitted, snap.Dropped, snap.CumulativeGain)
		select {
		case <-done:
			return
		case <-tok.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// wireLoggers points every package's package-level logger at the shared
// backend. bank stays at btclog.Disabled: its per-sample trace volume
// would drown out everything else at the same level.
func wireLoggers(logs *logging.Logging, level string) {
	workerpool.UseLogger(logs.Logger("POOL", level))
	engine.UseLogger(logs.Logger("ENGN", level))
	native.UseLogger(logs.Logger("ENAT", level))
	catalog.UseLogger(logs.Logger("CTLG", level))
	submission.UseLogger(logs.Logger("SUBM", level))
	cancel.UseLogger(logs.Logger("CANC", level))
}
