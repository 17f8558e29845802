// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package native is an in-process reference implementation of engine.Engine.
// A real deployment plugs in a sandboxing runtime for untrusted modules;
// that runtime is outside the scope of this core (it is treated as a black
// box with the contract documented on engine.Engine). native exists so the
// rest of the core — the worker pool, the local sketch bank, the submission
// pipeline — can be built, exercised, and tested end-to-end against a real
// Engine without depending on one.
//
// A "module" compiled by this engine is a fixed registry of named
// func(uint64) uint64 closures; "compiling" validates a small binary header
// so callers exercise the same Compile/Instantiate/ResolveTyped error paths
// a real engine would produce, and the epoch deadline is enforced by
// checking the shared counter between simulated work chunks inside each
// call, mirroring how a real engine interrupts between reduction steps.
package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/provetest/hllswarm/engine"
)

// magic is the 4-byte header Compile requires, analogous to the "\0asm"
// magic number a real wasm binary starts with.
var magic = [4]byte{'p', 'o', 'w', '1'}

// flagHasStart marks byte 4 of the header when a module declares a start
// procedure; Instantiate rejects any such module.
const flagHasStart = 0x01

// ErrEpochExceeded is returned by a resolved call when the Store's armed
// epoch deadline has been reached, mirroring how a real sandboxing runtime
// aborts an in-flight call once the engine-wide epoch passes its watermark.
var ErrEpochExceeded = fmt.Errorf("native: epoch deadline exceeded")

// Func is a named pure function a native module exposes. Funcs must be a
// deterministic function of their input for the PoW convention described by
// the core to mean anything.
type Func struct {
	Name string
	Call func(seed uint64) uint64
}

// workChunks is how many times a call checks ctx and the epoch deadline
// before it runs the registered function. The function itself is not
// interrupted once it has started.
const workChunks = 8

type nativeModule struct {
	name     string
	hasStart bool
	funcs    map[string]func(uint64) uint64
}

func (m *nativeModule) Name() string { return m.name }

type nativeStore struct {
	epoch    *uint64 // shared engine epoch
	deadline uint64  // epoch value at/after which calls abort; used only when armed
	armed    bool
}

func (s *nativeStore) SetEpochDeadline(delta uint64) {
	s.deadline = atomic.LoadUint64(s.epoch) + delta
	s.armed = true
}

func (s *nativeStore) expired() bool {
	return s.armed && atomic.LoadUint64(s.epoch) >= s.deadline
}

type nativeInstance struct {
	module *nativeModule
	store  *nativeStore
}

func (i *nativeInstance) Module() engine.Module { return i.module }

// Engine is the native reference engine.Engine implementation.
type Engine struct {
	epoch uint64
}

// New returns a ready-to-use native engine.
func New() *Engine {
	return &Engine{}
}

// IncrementEpoch advances the shared epoch counter by one.
func (e *Engine) IncrementEpoch() {
	atomic.AddUint64(&e.epoch, 1)
}

// NewStore creates a fresh per-worker Store bound to this engine's epoch.
func (e *Engine) NewStore() engine.Store {
	return &nativeStore{epoch: &e.epoch}
}

// Compile validates the header of bytes and returns a Module with an empty
// function table. A real sandboxing engine would populate its table by
// parsing the untrusted binary; here the caller supplies it afterward via
// Register, keyed by the function names the catalog already named.
func (e *Engine) Compile(bytes []byte) (engine.Module, error) {
	if len(bytes) < 5 || [4]byte{bytes[0], bytes[1], bytes[2], bytes[3]} != magic {
		return nil, &engine.CompileError{Cause: fmt.Errorf("missing native module header")}
	}
	return &nativeModule{
		name:     fmt.Sprintf("native-module-%x", bytes[4:5]),
		hasStart: bytes[4]&flagHasStart != 0,
		funcs:    map[string]func(uint64) uint64{},
	}, nil
}

// Register attaches a callable export to a Module previously returned by
// Compile. Intended for tests and reference deployments that construct
// modules programmatically rather than from real bytes.
func Register(m engine.Module, fn Func) error {
	nm, ok := m.(*nativeModule)
	if !ok {
		return fmt.Errorf("native.Register: not a native module")
	}
	nm.funcs[fn.Name] = fn.Call
	return nil
}

// Instantiate links module into store. Rejects modules whose header declared
// a start procedure; never executes one otherwise.
func (e *Engine) Instantiate(module engine.Module, store engine.Store) (engine.Instance, error) {
	nm, ok := module.(*nativeModule)
	if !ok {
		return nil, &engine.InstantiationError{Cause: fmt.Errorf("not a native module")}
	}
	if nm.hasStart {
		return nil, &engine.InstantiationError{Cause: engine.ErrHasStartFunc}
	}
	ns, ok := store.(*nativeStore)
	if !ok {
		return nil, &engine.InstantiationError{Cause: fmt.Errorf("not a native store")}
	}
	return &nativeInstance{module: nm, store: ns}, nil
}

// ResolveTyped resolves name as a u64->u64 pure function.
func (e *Engine) ResolveTyped(instance engine.Instance, name string) (engine.TypedFunc, error) {
	ni, ok := instance.(*nativeInstance)
	if !ok {
		return nil, &engine.SignatureMismatch{Name: name, Cause: fmt.Errorf("not a native instance")}
	}
	fn, ok := ni.module.funcs[name]
	if !ok {
		return nil, &engine.SignatureMismatch{Name: name, Cause: fmt.Errorf("export not found")}
	}
	store := ni.store

	return func(ctx context.Context, seed uint64) (uint64, error) {
		for i := 0; i < workChunks; i++ {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
			if store.expired() {
				return 0, ErrEpochExceeded
			}
		}
		return fn(seed), nil
	}, nil
}

// DemoModuleBytes returns a header for a demo module with no start
// procedure; the function table itself is attached afterward via Register.
func DemoModuleBytes(discriminant byte) []byte {
	return append(append([]byte{}, magic[:]...), discriminant)
}

// Blake2HashFunc returns a deterministic u64->u64 demo function derived from
// BLAKE2b, suitable for exercising the engine, worker pool, and sketch
// without a real sandboxed module present.
func Blake2HashFunc() func(uint64) uint64 {
	return func(seed uint64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], seed)
		sum := blake2b.Sum512(buf[:])
		return binary.LittleEndian.Uint64(sum[:8])
	}
}
