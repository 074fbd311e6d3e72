// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// TransientError reports a failure that a retry may resolve: a network
// error, a timeout, or a server-side (5xx) response.
type TransientError struct {
	Op         string
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports a client-side (4xx) rejection that a retry cannot
// resolve without external correction.
type PermanentError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: rejected (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: rejected (HTTP %d)", e.Op, e.StatusCode)
}

// IsTransient reports whether err may be resolved by retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyResponse turns a non-2xx response into the matching error type.
// All remote-call failures go through here before any retry decision.
func classifyResponse(op string, resp *http.Response) error {
	msg := responseMessage(resp)
	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	default:
		return &PermanentError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
}

// responseMessage extracts the intake's JSON "message" field when present,
// falling back to the HTTP status text.
func responseMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			return payload.Message
		}
	}
	return http.StatusText(resp.StatusCode)
}

// wrapTransport classifies request-level failures (DNS, refused connection,
// timeout) as transient.
func wrapTransport(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}
