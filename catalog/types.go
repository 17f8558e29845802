// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package catalog

// RepositoryList is the response body of GET /api/repositories.
type RepositoryList struct {
	TotalEstimatedTests float64      `json:"total_estimated_tests"`
	Repositories        []Repository `json:"repositories"`
}

// Repository is one entry of a RepositoryList.
type Repository struct {
	GithubRepo       string  `json:"github_repo"`
	EstimatedTests   float64 `json:"estimated_tests,omitempty"`
	LatestCatalogURL string  `json:"latest_catalog_url,omitempty"`
}

// LatestCatalog is the response body of
// GET /api/repositories/{owner}/{name}/latest-catalog.
type LatestCatalog struct {
	Files []CatalogFile `json:"files"`
}

// CatalogFile is one compiled module within a LatestCatalog.
type CatalogFile struct {
	ID        int64              `json:"id"`
	Functions []CatalogFunction `json:"functions"`
}

// CatalogFunction is one exported function the client can drive.
type CatalogFunction struct {
	ID             int64   `json:"id"`
	WasmFileID     int64   `json:"wasm_file_id"`
	Name           string  `json:"name"`
	EstimatedTests float64 `json:"estimated_tests"`
}

// HLLStateResponse is the response body of
// GET /api/wasm-files/{id}/hll-state, used to seed a fresh client's mirror.
type HLLStateResponse struct {
	Functions []HLLFunctionState `json:"functions"`
}

// HLLFunctionState is one function's raw register snapshot.
type HLLFunctionState struct {
	FunctionID int64    `json:"function_id"`
	HLLBits    uint8    `json:"hll_bits"`
	Hashes     []string `json:"hashes"`
}

// SubmitTestResultRequest is the body of POST /api/test-results. Seed and
// Hash are decimal-string-encoded u64 values so the wire format survives a
// JSON decoder backed by float64 without precision loss.
type SubmitTestResultRequest struct {
	FunctionID   int64   `json:"function_id"`
	WasmFileID   *int64  `json:"wasm_file_id,omitempty"`
	FunctionName *string `json:"function_name,omitempty"`
	Seed         string  `json:"seed"`
	Hash         string  `json:"hash"`
}

// SubmitTestResultResponse is the 2xx response body of POST
// /api/test-results.
type SubmitTestResultResponse struct {
	Improved         bool    `json:"improved"`
	EstimatedTests   float64 `json:"estimated_tests"`
	SubmittedUpdates int64   `json:"submitted_updates"`
}

// ErrorResponse is the body of a non-2xx response, per spec.md 7.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
