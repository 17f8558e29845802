// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package httpapi implements the server side of spec.md 6's wire surface:
// repository listing, per-repository catalogs, raw module bytes, HLL
// mirror-seeding state, and test-result submission. It follows the
// mux.HandleFunc-plus-writeJSONResponse idiom of liquidity.AllianceAPI,
// using the standard library's method-and-wildcard route patterns (added
// in Go 1.22) in place of manual path parsing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/provetest/hllswarm/aggregator"
	"github.com/provetest/hllswarm/catalog"
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

// Server exposes an Aggregator and a Catalog over HTTP.
type Server struct {
	agg        *aggregator.Aggregator
	cat        aggregator.Catalog
	metrics    http.Handler
	httpServer *http.Server
}

// New returns a Server. metricsHandler is typically promhttp.Handler() (or
// promhttp.HandlerFor a private registry) and is served at /metrics; it may
// be nil to omit that route entirely.
func New(agg *aggregator.Aggregator, cat aggregator.Catalog, metricsHandler http.Handler) *Server {
	return &Server{agg: agg, cat: cat, metrics: metricsHandler}
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/repositories", s.handleListRepositories)
	mux.HandleFunc("GET /api/repositories/{owner}/{name}/latest-catalog", s.handleLatestCatalog)
	mux.HandleFunc("GET /api/wasm-files/{id}", s.handleModuleBytes)
	mux.HandleFunc("GET /api/wasm-files/{id}/hll-state", s.handleHLLState)
	mux.HandleFunc("POST /api/test-results", s.handleSubmitTestResult)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

// ListenAndServe starts the HTTP server on addr, blocking until it stops.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Infof("listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, per liquidity.AllianceAPI's
// StopServer idiom.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, catalog.ErrorResponse{OK: false, Code: code, Error: message})
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.cat.ListRepositories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog_error", err.Error())
		return
	}

	out := catalog.RepositoryList{Repositories: make([]catalog.Repository, 0, len(repos))}
	for _, rp := range repos {
		out.TotalEstimatedTests += rp.EstimatedTests
		out.Repositories = append(out.Repositories, catalog.Repository{
			GithubRepo:     rp.GithubRepo,
			EstimatedTests: rp.EstimatedTests,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestCatalog(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("name")
	tree, err := s.cat.RepositoryTree(r.Context(), owner, name)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	out := catalog.LatestCatalog{Files: make([]catalog.CatalogFile, 0, len(tree.Files))}
	for _, f := range tree.Files {
		file := catalog.CatalogFile{ID: f.ID, Functions: make([]catalog.CatalogFunction, 0, len(f.Functions))}
		for _, fn := range f.Functions {
			file.Functions = append(file.Functions, catalog.CatalogFunction{
				ID:             fn.ID,
				WasmFileID:     fn.WasmFileID,
				Name:           fn.Name,
				EstimatedTests: fn.EstimatedTests,
			})
		}
		out.Files = append(out.Files, file)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModuleBytes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", "wasm file id must be an integer")
		return
	}

	data, err := s.cat.ModuleBytes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHLLState(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", "wasm file id must be an integer")
		return
	}

	records, err := s.cat.HLLState(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	out := catalog.HLLStateResponse{Functions: make([]catalog.HLLFunctionState, 0, len(records))}
	for _, rec := range records {
		hashes := make([]string, len(rec.Registers))
		for i, v := range rec.Registers {
			hashes[i] = strconv.FormatUint(v, 10)
		}
		out.Functions = append(out.Functions, catalog.HLLFunctionState{
			FunctionID: rec.FunctionID,
			HLLBits:    rec.Bits,
			Hashes:     hashes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitTestResult(w http.ResponseWriter, r *http.Request) {
	var req catalog.SubmitTestResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	seed, err := strconv.ParseUint(req.Seed, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_seed", "seed must be a decimal u64")
		return
	}
	hash, err := strconv.ParseUint(req.Hash, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_hash", "hash must be a decimal u64")
		return
	}

	sreq := aggregator.SubmitRequest{
		FunctionID: req.FunctionID,
		Seed:       seed,
		Hash:       hash,
	}
	if req.WasmFileID != nil {
		sreq.ModuleID = *req.WasmFileID
	}
	if req.FunctionName != nil {
		sreq.FunctionName = *req.FunctionName
	}

	res, err := s.agg.Submit(r.Context(), sreq)
	if err != nil {
		if errors.Is(err, aggregator.ErrFunctionNotFound) {
			writeError(w, http.StatusUnprocessableEntity, "unknown_function", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "submit_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, catalog.SubmitTestResultResponse{
		Improved:         res.Improved,
		EstimatedTests:   res.EstimatedTests,
		SubmittedUpdates: res.SubmittedUpdates,
	})
}
