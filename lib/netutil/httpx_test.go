// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte(`{"success":true}`)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"success":true}` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		var result struct {
			Name string `json:"name"`
			Port int    `json:"port"`
		}
		body := bytes.NewReader([]byte(`{"name":"dev-1","port":7681}`))
		if err := DecodeResponse(body, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "dev-1" || result.Port != 7681 {
			t.Fatalf("decoded %+v", result)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if err := DecodeResponse(bytes.NewReader([]byte(`not json`)), &struct{}{}); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(bytes.NewReader([]byte(`{"error":"no such container"}`))); got != `{"error":"no such container"}` {
		t.Fatalf("got %q", got)
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Fatalf("failed read produced %q, want empty", got)
	}
}
