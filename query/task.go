// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Status is a task's position in its (short) life. Tasks are created
// running; every task ends in exactly one terminal status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status ends the task.
func (s Status) Terminal() bool { return s != StatusRunning }

// Task is one query execution. The executor creates it at admission
// and hands it to the Recorder twice: once running, once terminal.
type Task struct {
	ID          string        `json:"task_id"`
	Container   string        `json:"container_name"`
	Prompt      string        `json:"prompt"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Timeout     time.Duration `json:"timeout"`
	Status      Status        `json:"status"`
	Output      string        `json:"output,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
}

// Recorder persists task records. The task store implements it; a nil
// Recorder on the executor disables persistence. Recorder failures are
// logged but never fail the query itself.
type Recorder interface {
	// TaskStarted persists the task in its running state, before the
	// first poll. A daemon crash leaves this row stranded in
	// "running"; startup recovery marks it failed.
	TaskStarted(ctx context.Context, task Task) error

	// TaskFinished persists the terminal record, transcript included.
	TaskFinished(ctx context.Context, task Task) error
}

// taskDomainKey is the BLAKE3 keyed-hash domain for task IDs: the
// ASCII domain name zero-padded to 32 bytes, so the key is readable in
// hex dumps while keeping domain separation from other warren digests.
var taskDomainKey = [32]byte{
	'w', 'a', 'r', 'r', 'e', 'n', '.', 't', 'a', 's', 'k',
}

// TaskID derives the task identifier from the container name, the
// prompt, and the submission instant. Deterministic, so a record can
// be re-derived from its inputs, and collision-free across containers
// and resubmissions of the same prompt.
func TaskID(container, prompt string, submittedAt time.Time) string {
	hasher, err := blake3.NewKeyed(taskDomainKey[:])
	if err != nil {
		panic("query: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	fmt.Fprintf(hasher, "%s\x00%s\x00%d", container, prompt, submittedAt.UnixNano())
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}
