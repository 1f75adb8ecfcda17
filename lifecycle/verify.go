// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// VerifyMode selects how an image verification outcome is applied
// during provisioning.
type VerifyMode string

const (
	// VerifyOff skips verification entirely.
	VerifyOff VerifyMode = "off"

	// VerifyWarn runs verification, logs a failure, and proceeds.
	VerifyWarn VerifyMode = "warn"

	// VerifyEnforce rejects the create request when verification
	// fails.
	VerifyEnforce VerifyMode = "enforce"
)

// Verifier checks that an image reference carries a valid signature.
// The reference passed in is digest-pinned (name@sha256:...) so the
// verified bytes are the bytes that run.
type Verifier interface {
	Verify(ctx context.Context, imageRef string) error
}

// CosignVerifier shells out to cosign(1) with a fixed public key.
type CosignVerifier struct {
	binary string
	key    string
	logger *slog.Logger

	// run executes the CLI. Replaced by tests.
	run func(ctx context.Context, args ...string) (stdout, stderr string, err error)
}

// NewCosignVerifier returns a Verifier driving the given cosign binary
// ("cosign" or an absolute path) with the public key at keyPath.
func NewCosignVerifier(binary, keyPath string, logger *slog.Logger) *CosignVerifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	verifier := &CosignVerifier{
		binary: binary,
		key:    keyPath,
		logger: logger,
	}
	verifier.run = verifier.runExec
	return verifier
}

func (v *CosignVerifier) runExec(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, v.binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.String(), stderr.String(), err
}

// Verify runs cosign verify against the digest-pinned reference.
func (v *CosignVerifier) Verify(ctx context.Context, imageRef string) error {
	_, stderr, err := v.run(ctx, "verify", "--key", v.key, imageRef)
	if err != nil {
		return fmt.Errorf("cosign verify %q: %w (stderr: %s)",
			imageRef, err, lastLine(stderr))
	}
	v.logger.Debug("image signature verified", "image", imageRef)
	return nil
}

// lastLine extracts the final non-empty stderr line, which is where
// cosign puts its verdict.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
