// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine defines the contract the worker pool uses to drive a
// sandboxed module: compile bytes into a Module, instantiate a Module into
// a Store-bound Instance, and resolve named exports with the single
// u64-in/u64-out signature the rest of the core depends on.
//
// The sandboxed runtime itself is an external collaborator (treated as a
// black box per the system's engineering scope); Engine exists so a real
// sandboxing runtime can be plugged in without this package, the worker
// pool, or the local sketch bank knowing about it. engine/native provides
// an in-process reference implementation used by tests and by any
// deployment that has not wired a real runtime.
package engine

import (
	"context"
	"fmt"

	"github.com/btcsuite/btclog"
)

// log is a logger that is initialized with no output filters. This means
// the package will not perform any logging by default until the caller
// requests it.
var log btclog.Logger

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

func init() {
	DisableLog()
}

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	log = btclog.Disabled
}

// CompileError is returned by Engine.Compile when the supplied bytes cannot
// be parsed as a module.
type CompileError struct {
	Cause error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile module: %v", e.Cause) }
func (e *CompileError) Unwrap() error { return e.Cause }

// InstantiationError is returned by Engine.Instantiate for link-time
// failures, including a module that declares a start procedure (Instantiate
// must never execute one).
type InstantiationError struct {
	Cause error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate module: %v", e.Cause)
}
func (e *InstantiationError) Unwrap() error { return e.Cause }

// ErrHasStartFunc is the Cause wrapped by InstantiationError when a module
// declares a start procedure.
var ErrHasStartFunc = fmt.Errorf("module declares a start function, which is rejected")

// SignatureMismatch is returned by Engine.ResolveTyped when the named export
// is not a single-u64-in, single-u64-out pure function.
type SignatureMismatch struct {
	Name  string
	Cause error
}

func (e *SignatureMismatch) Error() string {
	return fmt.Sprintf("export %q is not a u64->u64 function: %v", e.Name, e.Cause)
}
func (e *SignatureMismatch) Unwrap() error { return e.Cause }

// TypedFunc is a resolved, callable export. The call must observe ctx
// cancellation the same way the engine's epoch mechanism would abort a
// long-running call: promptly, and without corrupting the Store for
// subsequent calls on other exports of the same Instance.
type TypedFunc func(ctx context.Context, seed uint64) (uint64, error)

// Module is an opaque compiled module handle.
type Module interface {
	// Name is a human-readable identifier for logging; it need not be
	// unique or stable.
	Name() string
}

// Store holds the execution state an Instance runs inside. workerpool.Pool
// does not create Stores: cmd/powclient creates one Store per module, and
// every worker calls the functions resolved against it, so that Store is
// shared by all workers.
type Store interface {
	// SetEpochDeadline arms the interruption watermark: once the engine's
	// shared epoch counter has advanced delta times past its value when
	// this call was made, in-flight calls using this Store abort.
	SetEpochDeadline(delta uint64)
}

// Instance is an opaque instantiated module handle bound to a particular
// Store.
type Instance interface {
	Module() Module
}

// Engine is the black-box sandboxed execution engine contract. A single
// Engine is shared read-only across all workers; it also owns the
// process-wide epoch counter workers' Stores check against.
type Engine interface {
	// Compile parses bytes into a Module. Fails with *CompileError when the
	// binary is malformed.
	Compile(bytes []byte) (Module, error)

	// NewStore creates a fresh execution context. Nothing in this package
	// stops a caller from sharing one Store across workers.
	NewStore() Store

	// Instantiate links a Module into store, returning a ready-to-call
	// Instance. Fails with *InstantiationError for link-time issues,
	// including (always) a module that declares a start procedure — no
	// startup procedure is ever executed by Instantiate.
	Instantiate(module Module, store Store) (Instance, error)

	// ResolveTyped resolves name on instance as a u64->u64 pure function.
	// Fails with *SignatureMismatch when the named export does not have
	// that shape. Implementations must re-verify the signature at load
	// time even if an upstream catalog already filtered exports to it.
	ResolveTyped(instance Instance, name string) (TypedFunc, error)

	// IncrementEpoch advances the engine-wide epoch counter by one. Called
	// by a Timekeeper on a fixed cadence; any Store whose deadline has been
	// exceeded causes its in-flight calls to abort.
	IncrementEpoch()
}
