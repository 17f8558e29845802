// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// TransportError wraps a connect/read failure below the HTTP layer. Per
// spec.md 7 these are retried up to three times by the submission
// pipeline.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("catalog: transport: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// DecodeError wraps a 2xx response whose body did not parse. Treated the
// same as TransportError by callers: the server's result is lost and the
// mirror must not be updated.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("catalog: decode: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// StatusError wraps a non-2xx HTTP response. Retryable reports whether
// spec.md 7 classifies this status as transient (5xx or 429) rather than
// a permanent rejection.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether this status should be retried by the
// submission pipeline: 5xx (server overload) or 429 (throttle).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func classifyStatus(statusCode int, body []byte) error {
	var parsed ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &StatusError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Error}
	}
	return &StatusError{StatusCode: statusCode, Message: string(body)}
}
