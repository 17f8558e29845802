// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package leveldbstore implements aggregator.Store over a single goleveldb
// database, one key per function id. Each value is the JSON encoding of an
// aggregator.FunctionRecord, reusing hll.Sketch's own decimal-string codec
// for the register array so a record round-trips through the same wire
// format the client pipeline speaks.
package leveldbstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/provetest/hllswarm/aggregator"
	"github.com/provetest/hllswarm/hll"
)

// Store implements aggregator.Store over a leveldb database opened at a
// single path.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func functionKey(functionID int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(functionID))
	return append([]byte("fn:"), buf[:]...)
}

// record is the on-disk shape of an aggregator.FunctionRecord: registers
// are decimal strings via hll.Sketch's JSON codec rather than bare JSON
// numbers, avoiding float64 precision loss for large u64 minimums.
type record struct {
	FunctionID       int64           `json:"function_id"`
	ModuleID         int64           `json:"module_id"`
	FunctionName     string          `json:"function_name"`
	Bits             uint8           `json:"bits"`
	Registers        json.RawMessage `json:"registers"`
	SubmittedUpdates int64           `json:"submitted_updates"`
	WitnessSeed      string          `json:"witness_seed"`
	WitnessHash      string          `json:"witness_hash"`
}

func encodeRecord(rec aggregator.FunctionRecord) ([]byte, error) {
	sk := hll.New(rec.Bits)
	for r, v := range rec.Registers {
		if v != hll.Sentinel {
			sk.SetRegister(r, v)
		}
	}
	registersJSON, err := sk.MarshalJSON()
	if err != nil {
		return nil, err
	}
	r := record{
		FunctionID:       rec.FunctionID,
		ModuleID:         rec.ModuleID,
		FunctionName:     rec.FunctionName,
		Bits:             rec.Bits,
		Registers:        registersJSON,
		SubmittedUpdates: rec.SubmittedUpdates,
		WitnessSeed:      fmt.Sprintf("%d", rec.WitnessSeed),
		WitnessHash:      fmt.Sprintf("%d", rec.WitnessHash),
	}
	return json.Marshal(r)
}

func decodeRecord(data []byte) (aggregator.FunctionRecord, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return aggregator.FunctionRecord{}, err
	}
	sk := hll.FromJSON(r.Bits, r.Registers)
	var seed, hash uint64
	_, _ = fmt.Sscanf(r.WitnessSeed, "%d", &seed)
	_, _ = fmt.Sscanf(r.WitnessHash, "%d", &hash)
	return aggregator.FunctionRecord{
		FunctionID:       r.FunctionID,
		ModuleID:         r.ModuleID,
		FunctionName:     r.FunctionName,
		Bits:             r.Bits,
		Registers:        sk.Registers(),
		SubmittedUpdates: r.SubmittedUpdates,
		WitnessSeed:      seed,
		WitnessHash:      hash,
	}, nil
}

// Get implements aggregator.Store.
func (s *Store) Get(ctx context.Context, functionID int64) (aggregator.FunctionRecord, bool, error) {
	data, err := s.db.Get(functionKey(functionID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return aggregator.FunctionRecord{}, false, nil
	}
	if err != nil {
		return aggregator.FunctionRecord{}, false, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return aggregator.FunctionRecord{}, false, err
	}
	return rec, true, nil
}

// Create implements aggregator.Store. It is not itself atomic with
// concurrent Creates of the same functionID; callers rely on
// CompareAndSwap's transaction to resolve that race, identically
// to how a brand-new row racing an INSERT would in a relational backend.
func (s *Store) Create(ctx context.Context, functionID, moduleID int64, functionName string, bits uint8) (aggregator.FunctionRecord, error) {
	sk := hll.New(bits)
	rec := aggregator.FunctionRecord{
		FunctionID:   functionID,
		ModuleID:     moduleID,
		FunctionName: functionName,
		Bits:         sk.Bits(),
		Registers:    sk.Registers(),
	}

	if existing, found, err := s.Get(ctx, functionID); err == nil && found {
		return existing, nil
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return aggregator.FunctionRecord{}, err
	}
	if err := s.db.Put(functionKey(functionID), data, nil); err != nil {
		return aggregator.FunctionRecord{}, err
	}
	return rec, nil
}

// CompareAndSwap implements aggregator.Store using a leveldb transaction:
// the comparison and the write happen under the same per-database
// transaction lock, so a concurrent writer either commits first (and this
// call observes the mismatch and returns false) or blocks until this
// transaction commits or discards.
func (s *Store) CompareAndSwap(ctx context.Context, functionID int64, expected, next aggregator.FunctionRecord) (bool, error) {
	txn, err := s.db.OpenTransaction()
	if err != nil {
		return false, err
	}

	key := functionKey(functionID)
	current, err := txn.Get(key, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		txn.Discard()
		return false, err
	}

	expectedBytes, err := encodeRecord(expected)
	if err != nil {
		txn.Discard()
		return false, err
	}

	if !bytes.Equal(current, expectedBytes) {
		txn.Discard()
		return false, nil
	}

	nextBytes, err := encodeRecord(next)
	if err != nil {
		txn.Discard()
		return false, err
	}

	if err := txn.Put(key, nextBytes, nil); err != nil {
		txn.Discard()
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
