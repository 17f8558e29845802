// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"strconv"
	"time"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/catalog"
)

// mirrorRefreshInterval is the cadence of the optional background
// GET /hll-state re-seed, resolving spec.md 9's open question about
// correcting mirror divergence when an ack is lost.
const mirrorRefreshInterval = 30 * time.Second

// runMirrorRefresh periodically re-fetches each slot's server-known
// registers and seeds them into the bank's mirror, run only when
// --mirror-refresh is set.
func runMirrorRefresh(ctx context.Context, client *catalog.Client, b *bank.Bank) {
	ticker := time.NewTicker(mirrorRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range b.IDs() {
			slot, ok := b.Slot(id)
			if !ok {
				continue
			}
			state, err := client.HLLState(ctx, slot.ModuleID)
			if err != nil {
				continue
			}
			for _, fs := range state.Functions {
				if fs.FunctionID != slot.FunctionID {
					continue
				}
				registers := decodeHashes(fs.Hashes)
				b.SeedMirrorFromSnapshot(id, registers)
			}
		}
	}
}

func decodeHashes(hashes []string) []uint64 {
	out := make([]uint64, len(hashes))
	for i, h := range hashes {
		v, err := strconv.ParseUint(h, 10, 64)
		if err != nil {
			v = 0
		}
		out[i] = v
	}
	return out
}
