// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package catalog implements the client-side HTTP surface of spec.md 6:
// repository listing, per-repository catalogs, raw module bytes, HLL
// mirror-seeding state, and test-result submission. Module bytes are
// cached with a bounded decred/dcrd/lru set so a client revisiting the
// same repository does not re-fetch multi-megabyte module blobs.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/decred/dcrd/lru"
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

// connectTimeout and requestTimeout implement spec.md 4.E's "HTTP client
// (connect timeout ~2s, request timeout ~5s)".
const (
	connectTimeout = 2 * time.Second
	requestTimeout = 5 * time.Second
	userAgent      = "hllswarm-powclient/1.0"

	// defaultModuleCacheSize bounds how many distinct module byte blobs a
	// client keeps hot; eviction is least-recently-used.
	defaultModuleCacheSize = 64
)

// Client is the HTTP client a powclient process uses to talk to a
// powserver's catalog and submission endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	modules    *moduleCache
}

// New returns a Client targeting baseURL (e.g. "https://example.test"),
// with no trailing slash required.
func New(baseURL string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		modules: newModuleCache(defaultModuleCacheSize),
	}
}

func (c *Client) url(format string, a ...any) string {
	return c.baseURL + fmt.Sprintf(format, a...)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Cause: err}
	}
	return nil
}

// ListRepositories fetches GET /api/repositories.
func (c *Client) ListRepositories(ctx context.Context) (RepositoryList, error) {
	var out RepositoryList
	err := c.doJSON(ctx, http.MethodGet, c.url("/api/repositories"), nil, &out)
	return out, err
}

// LatestCatalog fetches GET /api/repositories/{owner}/{name}/latest-catalog.
func (c *Client) LatestCatalog(ctx context.Context, owner, name string) (LatestCatalog, error) {
	var out LatestCatalog
	path := c.url("/api/repositories/%s/%s/latest-catalog", url.PathEscape(owner), url.PathEscape(name))
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ModuleBytes fetches GET /api/wasm-files/{id}, serving from the in-memory
// LRU cache when present.
func (c *Client) ModuleBytes(ctx context.Context, wasmFileID int64) ([]byte, error) {
	if b, ok := c.modules.get(wasmFileID); ok {
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/wasm-files/%d", wasmFileID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, data)
	}

	c.modules.put(wasmFileID, data)
	return data, nil
}

// HLLState fetches GET /api/wasm-files/{id}/hll-state, used once per
// repository selection to seed the local bank's mirrors.
func (c *Client) HLLState(ctx context.Context, wasmFileID int64) (HLLStateResponse, error) {
	var out HLLStateResponse
	err := c.doJSON(ctx, http.MethodGet, c.url("/api/wasm-files/%d/hll-state", wasmFileID), nil, &out)
	return out, err
}

// SubmitTestResult posts POST /api/test-results.
func (c *Client) SubmitTestResult(ctx context.Context, req SubmitTestResultRequest) (SubmitTestResultResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return SubmitTestResultResponse{}, err
	}

	var out SubmitTestResultResponse
	err = c.doJSON(ctx, http.MethodPost, c.url("/api/test-results"), bytes.NewReader(payload), &out)
	return out, err
}

// moduleCache is a bounded LRU of module id to raw bytes. lru.Cache tracks
// membership only (no values), so the byte blobs live in a side map kept
// in sync with it and lazily pruned of anything the set has evicted.
type moduleCache struct {
	mu    sync.Mutex
	seen  *lru.Cache[int64]
	bytes map[int64][]byte
}

func newModuleCache(limit uint) *moduleCache {
	return &moduleCache{
		seen:  lru.NewCache[int64](limit),
		bytes: make(map[int64][]byte),
	}
}

func (c *moduleCache) get(id int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen.Contains(id) {
		return nil, false
	}
	b, ok := c.bytes[id]
	return b, ok
}

func (c *moduleCache) put(id int64, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen.Add(id)
	c.bytes[id] = b
	if len(c.bytes) > 2*c.seen.Len()+defaultModuleCacheSize {
		c.prune()
	}
}

func (c *moduleCache) prune() {
	for id := range c.bytes {
		if !c.seen.Contains(id) {
			delete(c.bytes, id)
		}
	}
}
