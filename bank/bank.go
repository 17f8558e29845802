// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bank implements the Local Sketch Bank: per-function local and
// mirror min-hash sketches, the classification of new samples as
// stale/locally-improving/improving, and the scan that picks the next candidate
// submission for the pipeline to send.
package bank

import (
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/provetest/hllswarm/hll"
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

// Classification describes the outcome of observing a sample against a
// slot's local and mirror sketches.
type Classification int

const (
	// Stale means the hash did not improve the local register at all.
	Stale Classification = iota
	// LocallyImproving means the local register improved but the mirror
	// already knows of an equal-or-lower value for that register, so the
	// server does not need to hear about it.
	LocallyImproving
	// Improving means the local register improved and is now strictly
	// below the mirror's value: a genuine candidate submission.
	Improving
)

// Slot holds one function's metadata, local sketch, mirror of the server's
// known registers, and the most recently acknowledged server estimate. All
// mutation of a Slot's sketches goes through its own lock; no lock ever
// spans multiple slots.
type Slot struct {
	FunctionID   int64
	ModuleID     int64
	FunctionName string

	mu             sync.Mutex
	local          *hll.Sketch
	mirror         *hll.Sketch
	lastAckedTests float64
}

// NewSlot returns a fresh slot with local and mirror sketches of the given
// bit width, both initially empty.
func NewSlot(functionID, moduleID int64, functionName string, bits uint8) *Slot {
	return &Slot{
		FunctionID:   functionID,
		ModuleID:     moduleID,
		FunctionName: functionName,
		local:        hll.New(bits),
		mirror:       hll.New(bits),
	}
}

// LastAckedEstimate returns the last server-reported estimated_tests value
// applied via RecordEstimate.
func (s *Slot) LastAckedEstimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAckedTests
}

// RecordEstimate updates the slot's most recently acknowledged estimate.
func (s *Slot) RecordEstimate(estimate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAckedTests = estimate
}

// LocalRegisters returns a copy of the slot's local register array.
func (s *Slot) LocalRegisters() []uint64 {
	return s.local.Registers()
}

// MirrorRegisters returns a copy of the slot's mirror register array.
func (s *Slot) MirrorRegisters() []uint64 {
	return s.mirror.Registers()
}

// Submission describes a single improving (seed, hash) sample selected by
// NextSubmission, ready for the pipeline to POST.
type Submission struct {
	SlotID       uint64
	FunctionID   int64
	ModuleID     int64
	FunctionName string
	Seed         uint64
	Hash         uint64
	Register     int
}

// Bank holds every function slot the client currently knows about, keyed by
// an opaque slot id (typically the function id). The map itself is guarded
// independently of any individual slot's lock.
type Bank struct {
	mu       sync.RWMutex
	slots    map[uint64]*Slot
	tieBreak TieBreak

	notifyMu sync.Mutex
	notify   chan struct{}
}

// New returns an empty bank using tieBreak to pick among multiple candidate
// submissions during a scan. A nil tieBreak defaults to LargestHashFirst,
// the policy spec.md recommends for bandwidth efficiency.
func New(tieBreak TieBreak) *Bank {
	if tieBreak == nil {
		tieBreak = LargestHashFirst
	}
	return &Bank{
		slots:    make(map[uint64]*Slot),
		tieBreak: tieBreak,
		notify:   make(chan struct{}, 1),
	}
}

// AddSlot registers slot under id, created on repository fetch. Replacing an
// existing id's slot is not supported; callers should RemoveSlot first.
func (b *Bank) AddSlot(id uint64, slot *Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[id] = slot
}

// Slot returns the slot registered under id, if any.
func (b *Bank) Slot(id uint64) (*Slot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.slots[id]
	return s, ok
}

// RemoveSlot destroys the slot registered under id, e.g. on client shutdown
// or when switching to a different repository.
func (b *Bank) RemoveSlot(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, id)
}

// IDs returns every slot id currently registered, in no particular order.
func (b *Bank) IDs() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]uint64, 0, len(b.slots))
	for id := range b.slots {
		ids = append(ids, id)
	}
	return ids
}

// Notify returns the channel the submission pipeline should select on: a
// value is sent (non-blocking, at most one pending) whenever ObserveLocal
// classifies a sample as Improving anywhere in the bank.
func (b *Bank) Notify() <-chan struct{} {
	return b.notify
}

func (b *Bank) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// ObserveLocal updates slotID's local register for hash and classifies the
// result. It must be called from the worker that produced (seed, hash); the
// slot's own lock serializes concurrent observations of the same register.
func (b *Bank) ObserveLocal(slotID uint64, seed, hash uint64) Classification {
	slot, ok := b.Slot(slotID)
	if !ok {
		return Stale
	}

	slot.mu.Lock()
	improved := slot.local.AddWitness(seed, hash)
	var class Classification
	if !improved {
		class = Stale
	} else {
		register := slot.local.RegisterOf(hash)
		mirrorVal := slot.mirror.Register(register)
		if hash < mirrorVal {
			class = Improving
		} else {
			class = LocallyImproving
		}
	}
	slot.mu.Unlock()

	if class == Improving {
		b.signal()
	}
	return class
}

// ApplyServerAck folds an acknowledged hash into slotID's mirror. Monotone:
// mirror[register] becomes min(mirror[register], hash). Never raises the
// mirror and never fails.
func (b *Bank) ApplyServerAck(slotID uint64, register int, hash uint64) {
	slot, ok := b.Slot(slotID)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.mirror.SetRegister(register, hash)
	slot.mu.Unlock()
}

// SeedMirrorFromSnapshot primes slotID's mirror with the server's currently
// known registers, called once when a fresh repository is selected so the
// client does not flood the server with already-known submissions.
func (b *Bank) SeedMirrorFromSnapshot(slotID uint64, registers []uint64) {
	slot, ok := b.Slot(slotID)
	if !ok {
		return
	}
	slot.mu.Lock()
	for r, v := range registers {
		slot.mirror.SetRegister(r, v)
	}
	slot.mu.Unlock()
}

// NextSubmission scans every slot for registers where local strictly
// improves on mirror, and returns the one selected by the bank's tie-break
// policy. Returns false if no slot currently has an improving register.
func (b *Bank) NextSubmission() (Submission, bool) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.slots))
	slots := make([]*Slot, 0, len(b.slots))
	for id, s := range b.slots {
		ids = append(ids, id)
		slots = append(slots, s)
	}
	b.mu.RUnlock()

	var (
		best  Submission
		found bool
	)

	for i, slot := range slots {
		slot.mu.Lock()
		local := slot.local.Registers()
		for r, lv := range local {
			if lv == hll.Sentinel {
				continue
			}
			mv := slot.mirror.Register(r)
			if lv >= mv {
				continue
			}
			seed, _ := slot.local.WitnessAt(r)
			cand := Submission{
				SlotID:       ids[i],
				FunctionID:   slot.FunctionID,
				ModuleID:     slot.ModuleID,
				FunctionName: slot.FunctionName,
				Seed:         seed,
				Hash:         lv,
				Register:     r,
			}
			if !found || b.tieBreak(best, cand) {
				best = cand
				found = true
			}
		}
		slot.mu.Unlock()
	}

	return best, found
}
