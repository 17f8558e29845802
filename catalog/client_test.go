package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repositories", r.URL.Path)
		_ = json.NewEncoder(w).Encode(RepositoryList{
			TotalEstimatedTests: 42,
			Repositories:        []Repository{{GithubRepo: "owner/repo"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.ListRepositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(42), out.TotalEstimatedTests)
	assert.Equal(t, "owner/repo", out.Repositories[0].GithubRepo)
}

func TestModuleBytesCachesAfterFirstFetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/wasm")
		_, _ = w.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	}))
	defer srv.Close()

	c := New(srv.URL)
	b1, err := c.ModuleBytes(context.Background(), 7)
	require.NoError(t, err)
	b2, err := c.ModuleBytes(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestSubmitTestResultPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{OK: false, Code: "function_not_found", Error: "no such function"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SubmitTestResult(context.Background(), SubmitTestResultRequest{
		FunctionID: 1,
		Seed:       "99",
		Hash:       "10",
	})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.False(t, statusErr.Retryable())
}

func TestSubmitTestResultRetryableThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(ErrorResponse{OK: false, Code: "throttled", Error: "slow down"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SubmitTestResult(context.Background(), SubmitTestResultRequest{FunctionID: 1, Seed: "1", Hash: "2"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Retryable())
}

func TestSubmitTestResultSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SubmitTestResultRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "99", req.Seed)
		assert.Equal(t, "10", req.Hash)
		_ = json.NewEncoder(w).Encode(SubmitTestResultResponse{Improved: true, EstimatedTests: 123, SubmittedUpdates: 1})
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.SubmitTestResult(context.Background(), SubmitTestResultRequest{FunctionID: 1, Seed: "99", Hash: "10"})
	require.NoError(t, err)
	assert.True(t, out.Improved)
	assert.Equal(t, float64(123), out.EstimatedTests)
}

func TestHLLState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HLLStateResponse{
			Functions: []HLLFunctionState{{FunctionID: 1, HLLBits: 4, Hashes: []string{"10", "20"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.HLLState(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out.Functions, 1)
	assert.Equal(t, uint8(4), out.Functions[0].HLLBits)
}
