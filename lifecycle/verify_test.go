// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedRun replaces the verifier's exec seam with a canned result
// and records the argv it received.
type scriptedRun struct {
	args   []string
	stderr string
	err    error
}

func (s *scriptedRun) run(ctx context.Context, args ...string) (string, string, error) {
	s.args = args
	return "", s.stderr, s.err
}

func TestCosignVerifierCommand(t *testing.T) {
	t.Parallel()

	script := &scriptedRun{}
	verifier := NewCosignVerifier("cosign", "/etc/warren/cosign.pub", nil)
	verifier.run = script.run

	ref := "ghcr.io/warren/agent@sha256:0011223344556677"
	if err := verifier.Verify(context.Background(), ref); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	want := []string{"verify", "--key", "/etc/warren/cosign.pub", ref}
	if len(script.args) != len(want) {
		t.Fatalf("argv = %q, want %q", script.args, want)
	}
	for i := range want {
		if script.args[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, script.args[i], want[i])
		}
	}
}

func TestCosignVerifierFailureCarriesStderrVerdict(t *testing.T) {
	t.Parallel()

	script := &scriptedRun{
		stderr: "Error: verifying signature\nmain.go: no matching signatures\n",
		err:    errors.New("exit status 1"),
	}
	verifier := NewCosignVerifier("cosign", "/etc/warren/cosign.pub", nil)
	verifier.run = script.run

	err := verifier.Verify(context.Background(), "ghcr.io/warren/agent@sha256:99")
	if err == nil {
		t.Fatal("Verify succeeded on cosign failure")
	}
	if !strings.Contains(err.Error(), "no matching signatures") {
		t.Errorf("error %q does not carry the stderr verdict", err)
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"", ""},
		{"one line", "one line"},
		{"first\nsecond\n", "second"},
		{"first\n\n  \n", "first"},
		{"a\nb\nc", "c"},
	}
	for _, tc := range cases {
		if got := lastLine(tc.in); got != tc.want {
			t.Errorf("lastLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
