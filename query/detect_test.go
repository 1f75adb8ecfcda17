// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"strings"
	"testing"
	"time"
)

func TestIdleAtTail(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		output string
		want   bool
	}{
		{"empty", "", false},
		{"idle last line", "⏺ done\n\n❯ ", true},
		{"idle with trailing blanks", "⏺ done\n❯\n\n\n", true},
		{"output after idle", "❯\nstill streaming", false},
		{"no idle anywhere", "working on it", false},
		{"idle mid frame only", "❯ old prompt\n⠙ spinner", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := idleAtTail(tc.output, "❯"); got != tc.want {
				t.Errorf("idleAtTail(%q) = %v, want %v", tc.output, got, tc.want)
			}
		})
	}
}

func TestExtractResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		output string
		prompt string
		want   string
	}{
		{
			name:   "after echoed prompt",
			output: "❯ ping\n⏺ pong\n\n❯ ",
			prompt: "ping",
			want:   "⏺ pong\n\n❯",
		},
		{
			name:   "no echo falls back to whole capture",
			output: "  some output with no prompt echo  ",
			prompt: "ping",
			want:   "some output with no prompt echo",
		},
		{
			name:   "echo on final line falls back",
			output: "earlier noise\n❯ ping",
			prompt: "ping",
			want:   "earlier noise\n❯ ping",
		},
		{
			name:   "last echo wins over scrollback",
			output: "❯ ping\nold answer\n❯ ping\nnew answer\n❯ ",
			prompt: "ping",
			want:   "new answer\n❯",
		},
		{
			name:   "multi-line prompt matches on first line",
			output: "❯ summarize this\n⏺ summary text\n❯ ",
			prompt: "summarize this\nwith more detail",
			want:   "⏺ summary text\n❯",
		},
		{
			name:   "prompt text without idle marker is not an echo",
			output: "the word ping appears in output\n❯ ping\nanswer\n❯ ",
			prompt: "ping",
			want:   "answer\n❯",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extractResponse(tc.output, tc.prompt, "❯"); got != tc.want {
				t.Errorf("extractResponse() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTaskIDDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	first := TaskID("dev-1", "ping", at)
	second := TaskID("dev-1", "ping", at)
	if first != second {
		t.Errorf("same inputs produced %q and %q", first, second)
	}
	if len(first) != 32 {
		t.Errorf("task id length = %d, want 32 hex chars", len(first))
	}
	if strings.ToLower(first) != first {
		t.Errorf("task id %q not lowercase hex", first)
	}
}

func TestTaskIDSeparatesInputs(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ids := map[string]string{
		"container": TaskID("dev-2", "ping", at),
		"prompt":    TaskID("dev-1", "pong", at),
		"time":      TaskID("dev-1", "ping", at.Add(time.Nanosecond)),
		// Concatenation ambiguity: name "dev" + prompt "-1ping" must
		// not collide with "dev-1" + "ping".
		"boundary": TaskID("dev", "-1ping", at),
	}
	base := TaskID("dev-1", "ping", at)
	for dimension, id := range ids {
		if id == base {
			t.Errorf("varying %s did not change the task id", dimension)
		}
	}
}
