// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/provetest/hllswarm/aggregator"
)

// seedDocument is the YAML shape of --seed: the relational schema spec.md 1
// treats as an external collaborator, stood in for here so powserver can
// run end to end without that infrastructure.
type seedDocument struct {
	Repositories []seedRepository `yaml:"repositories"`
}

type seedRepository struct {
	Owner string          `yaml:"owner"`
	Name  string          `yaml:"name"`
	Files []seedFileEntry `yaml:"files"`
}

type seedFileEntry struct {
	ID        int64      `yaml:"id"`
	WasmPath  string     `yaml:"wasm_path"`
	Functions []seedFunc `yaml:"functions"`
}

type seedFunc struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Bits uint8  `yaml:"bits"`
}

// loadSeed populates cat and store from the YAML file at path, relative to
// path's directory for any wasm_path entries.
func loadSeed(ctx context.Context, path string, cat *aggregator.MemCatalog, store aggregator.Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("powserver: read seed: %w", err)
	}
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("powserver: parse seed: %w", err)
	}

	baseDir := filepath.Dir(path)
	for _, repo := range doc.Repositories {
		tree := aggregator.RepositoryTree{}
		for _, f := range repo.Files {
			wasmBytes, err := os.ReadFile(filepath.Join(baseDir, f.WasmPath))
			if err != nil {
				return fmt.Errorf("powserver: read module %s: %w", f.WasmPath, err)
			}
			cat.AddModuleBytes(f.ID, wasmBytes)

			file := aggregator.TreeFile{ID: f.ID}
			for _, fn := range f.Functions {
				bits := fn.Bits
				if bits == 0 {
					bits = 12
				}
				if _, err := store.Create(ctx, fn.ID, f.ID, fn.Name, bits); err != nil {
					return fmt.Errorf("powserver: create function %s: %w", fn.Name, err)
				}
				rec, _, err := store.Get(ctx, fn.ID)
				if err != nil {
					return fmt.Errorf("powserver: read function %s: %w", fn.Name, err)
				}
				file.Functions = append(file.Functions, aggregator.TreeFunction{
					ID:             fn.ID,
					WasmFileID:     f.ID,
					Name:           fn.Name,
					EstimatedTests: aggregator.EstimateRecord(rec),
				})
			}
			tree.Files = append(tree.Files, file)
		}
		cat.AddRepository(repo.Owner, repo.Name, tree)
	}
	return nil
}
