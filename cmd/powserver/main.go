// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command powserver runs the catalog and aggregation side of the
// distributed proof-of-work cardinality estimation system: it serves a
// repository's module catalog, accepts test-result submissions, and
// persists each function's merged min-hash sketch to a leveldb store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/provetest/hllswarm/aggregator"
	"github.com/provetest/hllswarm/aggregator/httpapi"
	"github.com/provetest/hllswarm/aggregator/leveldbstore"
	"github.com/provetest/hllswarm/internal/cancel"
	"github.com/provetest/hllswarm/internal/logging"
	"github.com/provetest/hllswarm/internal/obsv"
)

// shutdownTimeout bounds how long in-flight requests get to finish once a
// shutdown is requested, matching liquidity.AllianceAPI.StopServer's grace
// period.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "powserver: %v\n", err)
		return 1
	}

	logs, err := logging.New(cfg.LogFile, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "powserver: cannot initialize logging: %v\n", err)
		return 1
	}
	defer logs.Close()

	log := logs.Logger("POWS", cfg.LogLevel)
	wireLoggers(logs, cfg.LogLevel)

	tok := cancel.New(context.Background())
	defer tok.WatchSignals()()

	store, err := leveldbstore.Open(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "powserver: cannot open store at %s: %v\n", cfg.StorePath, err)
		return 1
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics := obsv.NewServerMetrics(registry)

	cat := aggregator.NewMemCatalog(store)
	if cfg.Seed != "" {
		if err := loadSeed(tok.Context(), cfg.Seed, cat, store); err != nil {
			fmt.Fprintf(os.Stderr, "powserver: cannot load seed %s: %v\n", cfg.Seed, err)
			return 1
		}
		log.Infof("loaded seed repositories from %s", cfg.Seed)
	}

	agg := aggregator.New(store, metrics)
	server := httpapi.New(agg, cat, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "powserver: server error: %v\n", err)
			return 1
		}
		return 0
	case <-tok.Done():
		log.Info("shutting down")
		shutdownCtx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "powserver: shutdown: %v\n", err)
			return 1
		}
		return 130
	}
}

// wireLoggers points every package's package-level logger at the shared
// backend.
func wireLoggers(logs *logging.Logging, level string) {
	aggregator.UseLogger(logs.Logger("AGGR", level))
	httpapi.UseLogger(logs.Logger("HTTP", level))
	cancel.UseLogger(logs.Logger("CANC", level))
}
