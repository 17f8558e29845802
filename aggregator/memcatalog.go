// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregator

import (
	"context"
	"fmt"
	"sync"
)

// MemCatalog is an in-memory Catalog sufficient to exercise Aggregator and
// the catalog package's client end-to-end without the real relational
// schema and object store spec.md 1 names as external collaborators.
type MemCatalog struct {
	mu    sync.RWMutex
	repos map[string]RepositoryTree
	files map[int64][]byte
	store Store
}

// NewMemCatalog returns an empty catalog backed by store for HLLState
// lookups (the function registers it reports always come from store, the
// single source of truth for sketch state).
func NewMemCatalog(store Store) *MemCatalog {
	return &MemCatalog{
		repos: make(map[string]RepositoryTree),
		files: make(map[int64][]byte),
		store: store,
	}
}

// AddRepository registers owner/name's file tree.
func (c *MemCatalog) AddRepository(owner, name string, tree RepositoryTree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repos[repoKey(owner, name)] = tree
}

// AddModuleBytes registers the raw bytes served for wasmFileID.
func (c *MemCatalog) AddModuleBytes(wasmFileID int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[wasmFileID] = data
}

func repoKey(owner, name string) string { return owner + "/" + name }

func (c *MemCatalog) ListRepositories(ctx context.Context) ([]RepositorySummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]RepositorySummary, 0, len(c.repos))
	for key, tree := range c.repos {
		var total float64
		for _, f := range tree.Files {
			for _, fn := range f.Functions {
				total += fn.EstimatedTests
			}
		}
		out = append(out, RepositorySummary{GithubRepo: key, EstimatedTests: total})
	}
	return out, nil
}

func (c *MemCatalog) RepositoryTree(ctx context.Context, owner, name string) (RepositoryTree, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tree, ok := c.repos[repoKey(owner, name)]
	if !ok {
		return RepositoryTree{}, fmt.Errorf("aggregator: repository %s/%s not found", owner, name)
	}
	return tree, nil
}

func (c *MemCatalog) HLLState(ctx context.Context, wasmFileID int64) ([]FunctionRecord, error) {
	c.mu.RLock()
	var functionIDs []int64
	for _, tree := range c.repos {
		for _, f := range tree.Files {
			if f.ID != wasmFileID {
				continue
			}
			for _, fn := range f.Functions {
				functionIDs = append(functionIDs, fn.ID)
			}
		}
	}
	c.mu.RUnlock()

	records := make([]FunctionRecord, 0, len(functionIDs))
	for _, id := range functionIDs {
		rec, found, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *MemCatalog) ModuleBytes(ctx context.Context, wasmFileID int64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.files[wasmFileID]
	if !ok {
		return nil, fmt.Errorf("aggregator: module %d not found", wasmFileID)
	}
	return data, nil
}
