package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/catalog"
)

func newTestBank(t *testing.T, bits uint8) (*bank.Bank, uint64) {
	t.Helper()
	b := bank.New(nil)
	slot := bank.NewSlot(1, 10, "f", bits)
	b.AddSlot(1, slot)
	return b, 1
}

// E1 — first improvement round-trips through the pipeline and the mirror
// is updated so the same sample is not resubmitted.
func TestPipelineE1FirstImprovement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req catalog.SubmitTestResultRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "10", req.Hash)
		_ = json.NewEncoder(w).Encode(catalog.SubmitTestResultResponse{Improved: true, EstimatedTests: 5, SubmittedUpdates: 1})
	}))
	defer srv.Close()

	b, id := newTestBank(t, 4)
	class := b.ObserveLocal(id, 99, 0x0A) // register 10
	require.Equal(t, bank.Improving, class)

	p := New(catalog.New(srv.URL), b, nil)
	sub, ok := b.NextSubmission()
	require.True(t, ok)
	p.submit(context.Background(), sub)

	snap := p.Snapshot()
	assert.EqualValues(t, 1, snap.Submitted)
	assert.Equal(t, float64(5), snap.CumulativeGain)

	// mirror updated: resubmitting the same hash no longer qualifies.
	class = b.ObserveLocal(id, 99, 0x0A)
	assert.Equal(t, bank.Stale, class)
	_, ok = b.NextSubmission()
	assert.False(t, ok)
}

// E4 — a permanent rejection drops the submission without touching the
// mirror, and the failure is recorded.
func TestPipelineE4PermanentRejectionDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(catalog.ErrorResponse{Code: "function_not_found", Error: "HTTP 404: unknown function"})
	}))
	defer srv.Close()

	b, id := newTestBank(t, 4)
	b.ObserveLocal(id, 1, 0x05)

	p := New(catalog.New(srv.URL), b, nil)
	sub, ok := b.NextSubmission()
	require.True(t, ok)
	p.submit(context.Background(), sub)

	snap := p.Snapshot()
	assert.EqualValues(t, 1, snap.Dropped)
	assert.Contains(t, snap.LastError, "404")

	slot, _ := b.Slot(id)
	assert.NotEqual(t, uint64(0x05), slot.MirrorRegisters()[5])
}

// Property 12 — no request is attempted more than three times for a
// persistently failing (retryable) server.
func TestPipelineRetryEnvelopeBoundsAttempts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, id := newTestBank(t, 4)
	b.ObserveLocal(id, 1, 0x05)

	p := New(catalog.New(srv.URL), b, nil)
	sub, ok := b.NextSubmission()
	require.True(t, ok)

	start := time.Now()
	p.submit(context.Background(), sub)
	elapsed := time.Since(start)

	assert.EqualValues(t, maxAttempts, atomic.LoadInt32(&attempts))
	assert.Less(t, elapsed, 2*time.Second)
	assert.EqualValues(t, 1, p.Snapshot().Dropped)
}

// Property 13 — cancellation during the retry backoff aborts promptly.
func TestPipelineCancellationDuringBackoffIsPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, id := newTestBank(t, 4)
	b.ObserveLocal(id, 1, 0x05)

	p := New(catalog.New(srv.URL), b, nil)
	sub, ok := b.NextSubmission()
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		p.submit(ctx, sub)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit did not return promptly after cancellation")
	}
}

// E5 — cumulative gain is the sum of clamped estimated_tests deltas.
func TestPipelineE5CumulativeGainAccumulatesClampedDeltas(t *testing.T) {
	estimates := []float64{10, 25, 20, 30} // third response regresses; delta clamps to 0
	var call int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&call, 1) - 1
		_ = json.NewEncoder(w).Encode(catalog.SubmitTestResultResponse{Improved: true, EstimatedTests: estimates[i]})
	}))
	defer srv.Close()

	b, id := newTestBank(t, 8)
	p := New(catalog.New(srv.URL), b, nil)

	hashes := []uint64{0x10, 0x20, 0x30, 0x40} // distinct registers so each is a fresh submission
	for i, h := range hashes {
		class := b.ObserveLocal(id, uint64(i), h)
		require.Equal(t, bank.Improving, class)
		sub, ok := b.NextSubmission()
		require.True(t, ok)
		p.submit(context.Background(), sub)
	}

	// all four submissions share the same slot id, so each delta is taken
	// against the previous response: 10, +15, clamped 0 (20 is then the
	// recorded estimate), +10 = 35
	want := 10.0 + 15.0 + 0.0 + 10.0
	assert.Equal(t, want, p.Snapshot().CumulativeGain)
}

func TestPipelineRunDrainsAndExitsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(catalog.SubmitTestResultResponse{Improved: true, EstimatedTests: 1})
	}))
	defer srv.Close()

	b, id := newTestBank(t, 4)
	b.ObserveLocal(id, 1, 0x05)

	p := New(catalog.New(srv.URL), b, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return p.Snapshot().Submitted >= 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit promptly after cancellation")
	}
}
