package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provetest/hllswarm/bank"
	"github.com/provetest/hllswarm/engine/native"
)

func TestPoolFeedsBankAndCountsExecutions(t *testing.T) {
	b := bank.New(nil)
	b.AddSlot(1, bank.NewSlot(1, 1, "f", 6))

	var calls uint64
	call := func(ctx context.Context, seed uint64) (uint64, error) {
		atomic.AddUint64(&calls, 1)
		return seed, nil
	}

	p := New(2, b, []FunctionTarget{{SlotID: 1, Call: call}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Greater(t, atomic.LoadUint64(&calls), uint64(0))
	assert.Equal(t, atomic.LoadUint64(&calls), p.Stats.LocalExecutions)
}

func TestPoolCountsModuleFailuresAndContinues(t *testing.T) {
	b := bank.New(nil)
	b.AddSlot(1, bank.NewSlot(1, 1, "f", 6))

	call := func(ctx context.Context, seed uint64) (uint64, error) {
		if seed%2 == 0 {
			return 0, errModuleFailure
		}
		return seed, nil
	}

	p := New(1, b, []FunctionTarget{{SlotID: 1, Call: call}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Greater(t, p.Stats.ModuleFailures, uint64(0))
	assert.Greater(t, p.Stats.LocalExecutions, uint64(0))
}

// TestPoolRespectsEpochCancellation drives a target resolved through
// engine/native whose store deadline has already been crossed by the shared
// epoch, with ctx also canceled before Run; the pool must shut down
// promptly.
func TestPoolRespectsEpochCancellation(t *testing.T) {
	e := native.New()
	store := e.NewStore()
	store.SetEpochDeadline(1)

	m, err := e.Compile(native.DemoModuleBytes(0))
	require.NoError(t, err)
	require.NoError(t, native.Register(m, native.Func{
		Name: "f",
		Call: func(seed uint64) uint64 { return seed },
	}))

	instance, err := e.Instantiate(m, store)
	require.NoError(t, err)
	typed, err := e.ResolveTyped(instance, "f")
	require.NoError(t, err)

	b := bank.New(nil)
	b.AddSlot(1, bank.NewSlot(1, 1, "f", 6))

	p := New(1, b, []FunctionTarget{{SlotID: 1, Call: typed}})

	ctx, cancel := context.WithCancel(context.Background())
	e.IncrementEpoch()
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not shut down promptly after epoch/context cancellation")
	}
}

var errModuleFailure = moduleFailureError{}

type moduleFailureError struct{}

func (moduleFailureError) Error() string { return "module failure" }
