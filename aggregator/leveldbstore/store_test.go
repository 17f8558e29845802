package leveldbstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provetest/hllswarm/aggregator"
	"github.com/provetest/hllswarm/hll"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingFunctionReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(context.Background(), 1, 2, "f", 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), rec.Bits)
	assert.Len(t, rec.Registers, 16)

	got, found, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Registers, got.Registers)
	assert.Equal(t, "f", got.FunctionName)
}

func TestCreateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	first, err := s.Create(context.Background(), 1, 2, "f", 4)
	require.NoError(t, err)
	second, err := s.Create(context.Background(), 1, 99, "other", 8)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompareAndSwapAppliesMinOverRegister(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(context.Background(), 1, 2, "f", 4)
	require.NoError(t, err)

	next := rec
	next.Registers = append([]uint64(nil), rec.Registers...)
	next.Registers[3] = 0x42
	next.SubmittedUpdates = rec.SubmittedUpdates + 1

	ok, err := s.CompareAndSwap(context.Background(), 1, rec, next)
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(0x42), got.Registers[3])
	assert.EqualValues(t, 1, got.SubmittedUpdates)
}

func TestCompareAndSwapRejectsStaleExpected(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Create(context.Background(), 1, 2, "f", 4)
	require.NoError(t, err)

	winner := rec
	winner.Registers = append([]uint64(nil), rec.Registers...)
	winner.Registers[0] = 0x01
	winner.SubmittedUpdates = 1
	ok, err := s.CompareAndSwap(context.Background(), 1, rec, winner)
	require.NoError(t, err)
	require.True(t, ok)

	loser := rec
	loser.Registers = append([]uint64(nil), rec.Registers...)
	loser.Registers[0] = 0x02
	loser.SubmittedUpdates = 1
	ok, err = s.CompareAndSwap(context.Background(), 1, rec, loser) // rec is now stale
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestAggregatorOverLevelDBStoreConcurrentSubmit exercises the full
// Aggregator.Submit retry loop against a real leveldb-backed store under
// concurrent writers improving the same register (spec.md 8, property E6).
func TestAggregatorOverLevelDBStoreConcurrentSubmit(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(context.Background(), 1, 1, "f", 4)
	require.NoError(t, err)

	a := aggregator.New(s, nil)

	var wg sync.WaitGroup
	hashes := []uint64{0xA7, 0x87}
	wg.Add(len(hashes))
	for _, h := range hashes {
		h := h
		go func() {
			defer wg.Done()
			_, err := a.Submit(context.Background(), aggregator.SubmitRequest{
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

	rec, found, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, rec.SubmittedUpdates)
	assert.Equal(t, uint64(0x87), rec.Registers[7])
}

func TestEncodeDecodeRecordRoundTrips(t *testing.T) {
	rec := aggregator.FunctionRecord{
		FunctionID:       1,
		ModuleID:         2,
		FunctionName:     "f",
		Bits:             4,
		Registers:        append([]uint64{0x10, hll.Sentinel}, make([]uint64, 14)...),
		SubmittedUpdates: 3,
		WitnessSeed:      99,
		WitnessHash:      0x10,
	}
	for i := 2; i < len(rec.Registers); i++ {
		rec.Registers[i] = hll.Sentinel
	}

	data, err := encodeRecord(rec)
	require.NoError(t, err)
	got, err := decodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, rec.Registers, got.Registers)
	assert.Equal(t, rec.WitnessSeed, got.WitnessSeed)
	assert.Equal(t, rec.WitnessHash, got.WitnessHash)
}
