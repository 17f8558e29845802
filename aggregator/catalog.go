// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregator

import "context"

// RepositorySummary is one entry of Catalog.ListRepositories.
type RepositorySummary struct {
	GithubRepo     string
	EstimatedTests float64
}

// RepositoryTree is the file/function layout of one repository's latest
// indexed version.
type RepositoryTree struct {
	Files []TreeFile
}

// TreeFile is one compiled module within a RepositoryTree.
type TreeFile struct {
	ID        int64
	Functions []TreeFunction
}

// TreeFunction is one exported function within a TreeFile.
type TreeFunction struct {
	ID             int64
	WasmFileID     int64
	Name           string
	EstimatedTests float64
}

// Catalog is the read side of the relational schema spec.md 3 treats as
// context the aggregator core does not own: repositories, their version
// trees, and the raw module bytes. A concrete deployment backs this with
// the real relational store and object storage named in spec.md 1;
// cmd/powserver wires an in-memory implementation sufficient to exercise
// Aggregator end-to-end without that infrastructure.
type Catalog interface {
	ListRepositories(ctx context.Context) ([]RepositorySummary, error)
	RepositoryTree(ctx context.Context, owner, name string) (RepositoryTree, error)
	HLLState(ctx context.Context, wasmFileID int64) ([]FunctionRecord, error)
	ModuleBytes(ctx context.Context, wasmFileID int64) ([]byte, error)
}
