// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reading for warren's
// HTTP clients (the broker transport, the operator CLI).
//
// All helpers cap the read at MaxResponseSize so a misbehaving server
// cannot make a client allocate without bound. They are for JSON API
// responses, not streams: the SSE follower reads its stream line by
// line and never through these.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize caps API response body reads at 32 MB. Warren's
// largest payload is a query transcript, which the pane capture bounds
// far below this; the cap only matters when the configured URL points
// at something that is not a warren service at all.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads an HTTP response body up to MaxResponseSize. Use
// instead of io.ReadAll when reading response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (bounded) and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for inclusion in an error
// message. Read failures are ignored; a partial body is still better
// diagnostics than none.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
