// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/warren/query"
	"github.com/bureau-foundation/warren/taskstore"
)

var archiveEpoch = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// makeTask builds a terminal task submitted the given number of
// minutes after the test epoch.
func makeTask(container, prompt string, minutesAfter int, status query.Status) query.Task {
	submitted := archiveEpoch.Add(time.Duration(minutesAfter) * time.Minute)
	task := query.Task{
		ID:          query.TaskID(container, prompt, submitted),
		Container:   container,
		Prompt:      prompt,
		SubmittedAt: submitted,
		Timeout:     5 * time.Minute,
		Status:      status,
		Duration:    42 * time.Second,
	}
	if status != query.StatusCompleted {
		task.ExitCode = 1
	}
	return task
}

func openTestStore(t *testing.T, cfg taskstore.Config) *taskstore.Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "tasks.db")
	}
	store, err := taskstore.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	store := openTestStore(t, taskstore.Config{})
	ctx := context.Background()

	task := makeTask("dev-1", "run the tests", 0, query.StatusCompleted)
	task.Output = strings.Repeat("⏺ All 142 tests pass.\n", 50)

	running := task
	running.Status = query.StatusRunning
	running.Output = ""
	running.Duration = 0
	if err := store.TaskStarted(ctx, running); err != nil {
		t.Fatalf("TaskStarted: %v", err)
	}
	if err := store.TaskFinished(ctx, task); err != nil {
		t.Fatalf("TaskFinished: %v", err)
	}

	loaded, err := store.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if loaded.Container != "dev-1" || loaded.Prompt != "run the tests" {
		t.Errorf("identity fields: %+v", loaded)
	}
	if loaded.Status != query.StatusCompleted || loaded.ExitCode != 0 {
		t.Errorf("terminal write did not replace the running row: %+v", loaded)
	}
	if !loaded.SubmittedAt.Equal(task.SubmittedAt) {
		t.Errorf("SubmittedAt %v, want %v", loaded.SubmittedAt, task.SubmittedAt)
	}
	if loaded.Timeout != task.Timeout || loaded.Duration != task.Duration {
		t.Errorf("timing fields: timeout %v duration %v", loaded.Timeout, loaded.Duration)
	}
	if loaded.Output != task.Output {
		t.Errorf("transcript did not survive the blob roundtrip (%d bytes, want %d)",
			len(loaded.Output), len(task.Output))
	}

	// The list view serves scalar columns only.
	list, err := store.Tasks(ctx, taskstore.Filter{})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d rows, want 1 (started row replaced)", len(list))
	}
	if list[0].Output != "" {
		t.Error("list view loaded the transcript")
	}
}

func TestTaskNotFound(t *testing.T) {
	t.Parallel()
	store := openTestStore(t, taskstore.Config{})

	_, err := store.Task(context.Background(), "0000feed0000")
	if !errors.Is(err, taskstore.ErrTaskNotFound) {
		t.Errorf("error %v, want ErrTaskNotFound", err)
	}
}

func TestTasksFilters(t *testing.T) {
	t.Parallel()
	store := openTestStore(t, taskstore.Config{})
	ctx := context.Background()

	for _, task := range []query.Task{
		makeTask("dev-1", "first", 0, query.StatusCompleted),
		makeTask("dev-1", "second", 1, query.StatusFailed),
		makeTask("dev-2", "third", 2, query.StatusCompleted),
	} {
		if err := store.TaskFinished(ctx, task); err != nil {
			t.Fatalf("TaskFinished %s: %v", task.Prompt, err)
		}
	}

	cases := []struct {
		name        string
		filter      taskstore.Filter
		wantPrompts []string
	}{
		{"all newest first", taskstore.Filter{}, []string{"third", "second", "first"}},
		{"by container", taskstore.Filter{Container: "dev-1"}, []string{"second", "first"}},
		{"by status", taskstore.Filter{Status: query.StatusCompleted}, []string{"third", "first"}},
		{"container and status", taskstore.Filter{Container: "dev-1", Status: query.StatusFailed}, []string{"second"}},
		{"limit", taskstore.Filter{Limit: 1}, []string{"third"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks, err := store.Tasks(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Tasks: %v", err)
			}
			if len(tasks) != len(tc.wantPrompts) {
				t.Fatalf("listed %d rows, want %d", len(tasks), len(tc.wantPrompts))
			}
			for i, want := range tc.wantPrompts {
				if tasks[i].Prompt != want {
					t.Errorf("row %d prompt %q, want %q", i, tasks[i].Prompt, want)
				}
			}
		})
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	t.Parallel()
	store := openTestStore(t, taskstore.Config{Retention: 2})
	ctx := context.Background()

	oldest := makeTask("dev-1", "oldest", 0, query.StatusCompleted)
	other := makeTask("dev-2", "unrelated", 0, query.StatusCompleted)
	for _, task := range []query.Task{
		oldest,
		other,
		makeTask("dev-1", "middle", 1, query.StatusCompleted),
		makeTask("dev-1", "newest", 2, query.StatusCompleted),
	} {
		if err := store.TaskFinished(ctx, task); err != nil {
			t.Fatalf("TaskFinished %s: %v", task.Prompt, err)
		}
	}

	tasks, err := store.Tasks(ctx, taskstore.Filter{Container: "dev-1"})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Prompt != "newest" || tasks[1].Prompt != "middle" {
		t.Fatalf("retained %d rows %+v, want newest and middle", len(tasks), tasks)
	}
	if _, err := store.Task(ctx, oldest.ID); !errors.Is(err, taskstore.ErrTaskNotFound) {
		t.Errorf("oldest row survived the sweep: %v", err)
	}

	// Retention is per container: dev-2's single row is untouched.
	if _, err := store.Task(ctx, other.ID); err != nil {
		t.Errorf("unrelated container swept: %v", err)
	}
}

func TestRecoverStranded(t *testing.T) {
	t.Parallel()
	store := openTestStore(t, taskstore.Config{})
	ctx := context.Background()

	strandedA := makeTask("dev-1", "interrupted by crash", 0, query.StatusRunning)
	strandedA.ExitCode = 0
	strandedB := makeTask("dev-2", "also interrupted", 1, query.StatusRunning)
	strandedB.ExitCode = 0
	finished := makeTask("dev-3", "done before crash", 2, query.StatusCompleted)

	if err := store.TaskStarted(ctx, strandedA); err != nil {
		t.Fatalf("TaskStarted: %v", err)
	}
	if err := store.TaskStarted(ctx, strandedB); err != nil {
		t.Fatalf("TaskStarted: %v", err)
	}
	if err := store.TaskFinished(ctx, finished); err != nil {
		t.Fatalf("TaskFinished: %v", err)
	}

	recovered, err := store.RecoverStranded(ctx)
	if err != nil {
		t.Fatalf("RecoverStranded: %v", err)
	}
	if recovered != 2 {
		t.Errorf("recovered %d rows, want 2", recovered)
	}

	failed, err := store.Tasks(ctx, taskstore.Filter{Status: query.StatusFailed})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("%d failed rows, want 2", len(failed))
	}
	for _, task := range failed {
		if task.ExitCode != 1 {
			t.Errorf("recovered task %s exit code %d, want 1", task.ID, task.ExitCode)
		}
	}

	loaded, err := store.Task(ctx, finished.ID)
	if err != nil || loaded.Status != query.StatusCompleted {
		t.Errorf("completed task disturbed by recovery: %+v, %v", loaded, err)
	}

	// Idempotent: a second sweep finds nothing.
	recovered, err = store.RecoverStranded(ctx)
	if err != nil || recovered != 0 {
		t.Errorf("second sweep recovered %d, %v; want 0, nil", recovered, err)
	}
}

func TestOpenReader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	writer, err := taskstore.Open(taskstore.Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	task := makeTask("dev-1", "archived before daemon stop", 0, query.StatusCompleted)
	task.Output = strings.Repeat("⏺ done\n", 40)
	if err := writer.TaskFinished(ctx, task); err != nil {
		t.Fatalf("TaskFinished: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := taskstore.OpenReader(path, nil)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { reader.Close() })

	loaded, err := reader.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("Task via reader: %v", err)
	}
	if loaded.Output != task.Output {
		t.Error("reader did not see the archived transcript")
	}

	if err := reader.TaskStarted(ctx, task); err == nil {
		t.Error("TaskStarted on a reader should fail")
	}
	if _, err := reader.RecoverStranded(ctx); err == nil {
		t.Error("RecoverStranded on a reader should fail")
	}
}

func TestOpenReaderMissingDatabase(t *testing.T) {
	t.Parallel()
	_, err := taskstore.OpenReader(filepath.Join(t.TempDir(), "absent.db"), nil)
	if err == nil {
		t.Fatal("OpenReader should fail when the database does not exist")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := taskstore.Open(taskstore.Config{}); err == nil {
		t.Fatal("Open without a path should fail")
	}
}
