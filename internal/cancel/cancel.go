// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cancel implements the single process-wide cancellation token
// described by spec.md 5: set by a SIGINT handler (a second press forces
// an immediate exit), by q/Q or ctrl-C read from stdin, or
// programmatically. Every waiting primitive in the core — channel
// receives, sleeps, and the epoch deadline — is expected to select on the
// context this token exposes.
package cancel

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/btcsuite/btclog"
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

// Token is the process-wide cancellation primitive. The zero value is not
// ready for use; construct one with New.
type Token struct {
	ctx     context.Context
	cancel  context.CancelFunc
	presses int32
}

// New returns a Token derived from parent. Cancel fires once on the first
// call; a second logical interrupt (tracked by Interrupt's return value)
// is the caller's cue to force-exit within one second, per spec.md 5.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context every cancellable wait should select on.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is a convenience shorthand for Context().Done().
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Canceled reports whether the token has fired.
func (t *Token) Canceled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Interrupt signals cancellation and returns the number of times it has
// now been called. Callers (the SIGINT handler, the stdin watcher) use a
// return value of 2 or more as the force-exit trigger.
func (t *Token) Interrupt() int32 {
	t.cancel()
	return atomic.AddInt32(&t.presses, 1)
}

// WatchSignals installs a SIGINT/SIGTERM handler that calls Interrupt on
// every delivery and os.Exit(130) starting with the second. It returns a
// stop function that removes the handler; callers should defer it.
func (t *Token) WatchSignals() (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				n := t.Interrupt()
				log.Infof("interrupt received (%d)", n)
				if n >= 2 {
					os.Exit(130)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
