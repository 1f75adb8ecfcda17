// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the warren
// daemon and CLI. It centralizes the one legitimate raw-stderr pattern
// that exists before the structured logger is up: fatal error
// reporting from main() when run() fails.
package process
