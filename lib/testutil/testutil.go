// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for warren packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so that
// individual tests do not need direct time.After calls. These are the
// only place in the test suite where real wall-clock timeouts appear;
// everything else drives a clock.FakeClock.
//
// [UniqueID] generates monotonically increasing identifiers so parallel
// tests can mint container and session names without colliding.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no warren-internal dependencies.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// failer is the subset of *testing.T the helpers need. Declared as an
// interface so the helpers stay usable from testing.B and fuzz targets.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test.
//
//	event := testutil.RequireReceive(t, sub.C, 5*time.Second, "waiting for event")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", formatMessage(msgAndArgs))
		}
		return v
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
	panic("unreachable")
}

// RequireSend sends v on ch within timeout, or fails the test.
func RequireSend[T any](t failer, ch chan<- T, v T, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case ch <- v:
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, formatMessage(msgAndArgs))
	}
}

// RequireClosed waits for ch to close (or deliver) within timeout, or
// fails the test. Use for readiness channels that signal by closing.
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for close: %s", timeout, formatMessage(msgAndArgs))
	}
}

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N monotonically increasing across the
// whole test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// formatMessage renders optional message arguments: a plain string, or
// a format string plus args.
func formatMessage(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return "(no message)"
	}
	if len(msgAndArgs) == 1 {
		if s, ok := msgAndArgs[0].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprintf("%v", msgAndArgs)
}
