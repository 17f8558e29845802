package aggregator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provetest/hllswarm/hll"
)

// memStore is a minimal in-memory Store for aggregator unit tests; the
// leveldbstore package has its own integration tests against a real
// database.
type memStore struct {
	mu      sync.Mutex
	records map[int64]FunctionRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]FunctionRecord)}
}

func (s *memStore) Get(ctx context.Context, functionID int64) (FunctionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[functionID]
	return cloneRecord(rec), ok, nil
}

func (s *memStore) Create(ctx context.Context, functionID, moduleID int64, functionName string, bits uint8) (FunctionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[functionID]; ok {
		return cloneRecord(existing), nil
	}
	sk := hll.New(bits)
	rec := FunctionRecord{
		FunctionID:   functionID,
		ModuleID:     moduleID,
		FunctionName: functionName,
		Bits:         sk.Bits(),
		Registers:    sk.Registers(),
	}
	s.records[functionID] = rec
	return cloneRecord(rec), nil
}

func (s *memStore) CompareAndSwap(ctx context.Context, functionID int64, expected, next FunctionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[functionID]
	if !ok || !recordsEqual(current, expected) {
		return false, nil
	}
	s.records[functionID] = cloneRecord(next)
	return true, nil
}

func cloneRecord(r FunctionRecord) FunctionRecord {
	out := r
	out.Registers = append([]uint64(nil), r.Registers...)
	return out
}

func recordsEqual(a, b FunctionRecord) bool {
	if a.SubmittedUpdates != b.SubmittedUpdates || len(a.Registers) != len(b.Registers) {
		return false
	}
	for i := range a.Registers {
		if a.Registers[i] != b.Registers[i] {
			return false
		}
	}
	return true
}

func TestSubmitCreatesUnknownFunctionWithMetadata(t *testing.T) {
	a := New(newMemStore(), nil)
	res, err := a.Submit(context.Background(), SubmitRequest{
		FunctionID:   1,
		ModuleID:     2,
		FunctionName: "f",
		Seed:         99,
		Hash:         0x0A, // register 10 mod 16 = 10
		DefaultBits:  4,
	})
	require.NoError(t, err)
	assert.True(t, res.Improved)
	assert.EqualValues(t, 1, res.SubmittedUpdates)
}

func TestSubmitUnknownFunctionWithoutMetadataFails(t *testing.T) {
	a := New(newMemStore(), nil)
	_, err := a.Submit(context.Background(), SubmitRequest{FunctionID: 1, Seed: 1, Hash: 1})
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestSubmitNoOpWhenNotImproving(t *testing.T) {
	store := newMemStore()
	a := New(store, nil)

	_, err := a.Submit(context.Background(), SubmitRequest{FunctionID: 1, FunctionName: "f", Seed: 1, Hash: 0x50, DefaultBits: 4})
	require.NoError(t, err)

	res, err := a.Submit(context.Background(), SubmitRequest{FunctionID: 1, FunctionName: "f", Seed: 2, Hash: 0xF0, DefaultBits: 4}) // same register (mod 16 = 0), worse hash
	require.NoError(t, err)
	assert.False(t, res.Improved)

	rec, found, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1, rec.SubmittedUpdates)
}

// E6 — concurrent server merge: two submissions improving the same
// register must both commit, leaving the lower hash stored and the
// update counter incremented exactly twice.
func TestSubmitE6ConcurrentMergeIsCommutative(t *testing.T) {
	store := newMemStore()
	_, err := store.Create(context.Background(), 1, 1, "f", 4)
	require.NoError(t, err)
	store.records[1].Registers[7] = 0xC0

	a := New(store, nil)

	var wg sync.WaitGroup
	hashes := []uint64{0xA7, 0x87} // both land on register 7 (low nibble 0x7), 0xC0 stored
	wg.Add(len(hashes))
	for _, h := range hashes {
		h := h
		go func() {
			defer wg.Done()
			_, err := a.Submit(context.Background(), SubmitRequest{
				FunctionID:   1,
				FunctionName: "f",
				Seed:         h,
				Hash:         h,
				DefaultBits:  4,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, found, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, rec.SubmittedUpdates)
	assert.Equal(t, uint64(0x87), rec.Registers[7])
}
