package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/internal/clock"
)

// taskFMG serves /task/task from a scripted sequence of task snapshots. The
// last snapshot repeats. A nil script answers with an empty list.
func taskFMG(script ...map[string]any) (*fakeFMG, *int) {
	polls := 0
	f := &fakeFMG{handle: func(req api.Request) []api.Result {
		switch urlOf(req) {
		case api.URLTask:
			polls++
			if len(script) == 0 {
				return []api.Result{okResult([]any{})}
			}
			idx := polls - 1
			if idx >= len(script) {
				idx = len(script) - 1
			}
			return []api.Result{okResult([]map[string]any{script[idx]})}
		case "/dvm/cmd/add/device":
			return []api.Result{okResult(map[string]any{"taskid": 7})}
		}
		return []api.Result{okResult(nil)}
	}}
	return f, &polls
}

func TestWaitForTaskReturnsTerminalStates(t *testing.T) {
	t.Parallel()

	for _, state := range []api.TaskState{
		api.TaskCancelled, api.TaskDone, api.TaskError, api.TaskAborted, api.TaskToContinue, api.TaskUnknown,
	} {
		f, polls := taskFMG(map[string]any{"id": 7, "state": string(state), "percent": 100})
		sess := newTestSession(t, f)
		got, err := sess.WaitForTask(context.Background(), TaskID(7), WaitOptions{})
		if err != nil {
			t.Fatalf("%s: %v", state, err)
		}
		if got != state {
			t.Fatalf("expected %s, got %s", state, got)
		}
		if *polls != 1 {
			t.Fatalf("%s: expected a single poll, got %d", state, *polls)
		}
	}
}

func TestWaitForTaskPollsUntilDone(t *testing.T) {
	t.Parallel()

	f, polls := taskFMG(
		map[string]any{"id": 7, "state": "pending", "percent": 0},
		map[string]any{"id": 7, "state": "running", "percent": 40, "line": []map[string]any{{"name": "add", "detail": "connecting", "state": "running"}}},
		map[string]any{"id": 7, "state": 4, "percent": 100, "line": []map[string]any{{"name": "add", "detail": "connecting"}, {"name": "add", "detail": "added", "state": "done"}}},
	)
	clk := clock.NewStepping(time.Unix(0, 0))
	sess := newTestSession(t, f, WithClock(clk))

	type progress struct {
		percent int
		detail  string
	}
	var seen []progress
	state, err := sess.WaitForTask(context.Background(), TaskID(7), WaitOptions{
		Interval: time.Second,
		Callback: func(percent int, detail string) {
			seen = append(seen, progress{percent, detail})
		},
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state != api.TaskDone {
		t.Fatalf("expected numeric state 4 to decode as done, got %q", state)
	}
	if *polls != 3 {
		t.Fatalf("expected 3 polls, got %d", *polls)
	}
	want := []progress{{0, ""}, {40, "connecting"}, {100, "added"}}
	if len(seen) != len(want) {
		t.Fatalf("expected %d callbacks, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("callback %d: expected %+v, got %+v", i, want[i], seen[i])
		}
	}
	waits := clk.Waits()
	if len(waits) != 2 || waits[0] != time.Second {
		t.Fatalf("expected two 1s sleeps, got %v", waits)
	}
	filter, _ := json.Marshal(f.last().Params[0].Filter)
	if string(filter) != `["id","==",7]` {
		t.Fatalf("unexpected task filter %s", filter)
	}
}

func TestWaitForTaskTimeout(t *testing.T) {
	t.Parallel()

	f, polls := taskFMG(map[string]any{"id": 9, "state": "running", "percent": 10})
	sess := newTestSession(t, f)
	state, err := sess.WaitForTask(context.Background(), TaskID(9), WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 2 * time.Second,
	})
	var terr *TaskTimeoutError
	if !errors.As(err, &terr) || !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected TaskTimeoutError, got %v", err)
	}
	if terr.TaskID != 9 || terr.Timeout != 5*time.Second || terr.Last != api.TaskRunning {
		t.Fatalf("unexpected timeout error %+v", terr)
	}
	if state != api.TaskRunning {
		t.Fatalf("expected last state running, got %q", state)
	}
	// polls at t=0,2,4 fit, the poll at t=6 exceeds the timeout
	if *polls != 4 {
		t.Fatalf("expected 4 polls, got %d", *polls)
	}
}

func TestWaitForTaskVanished(t *testing.T) {
	t.Parallel()

	f, _ := taskFMG()
	sess := newTestSession(t, f)
	if _, err := sess.WaitForTask(context.Background(), TaskID(3), WaitOptions{}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestWaitForTaskWithoutID(t *testing.T) {
	t.Parallel()

	f, polls := taskFMG(map[string]any{"id": 1, "state": "done"})
	sess := newTestSession(t, f)
	state, err := sess.WaitForTask(context.Background(), &Response{Data: json.RawMessage(`{"name":"x"}`), Success: true}, WaitOptions{})
	if err != nil || state != "" {
		t.Fatalf("expected no-op, got %q %v", state, err)
	}
	failed := &Response{Data: json.RawMessage(`{"taskid":1}`), session: sess}
	if state, err := failed.WaitForTask(context.Background(), WaitOptions{}); err != nil || state != "" {
		t.Fatalf("failed response must not wait, got %q %v", state, err)
	}
	if *polls != 0 {
		t.Fatalf("expected no polls, got %d", *polls)
	}
}

func TestResponseWaitForTaskUsesTaskID(t *testing.T) {
	t.Parallel()

	f, polls := taskFMG(map[string]any{"id": 7, "state": "done", "percent": 100})
	sess := newTestSession(t, f)
	ctx := context.Background()
	resp, err := sess.Exec(ctx, Raw("/dvm/cmd/add/device", map[string]any{"adom": "root"}))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	state, err := resp.WaitForTask(ctx, WaitOptions{})
	if err != nil || state != api.TaskDone {
		t.Fatalf("expected done, got %q %v", state, err)
	}
	if *polls != 1 {
		t.Fatalf("expected one poll, got %d", *polls)
	}
}

func TestWaitForTaskHonoursContext(t *testing.T) {
	t.Parallel()

	f, _ := taskFMG(map[string]any{"id": 5, "state": "running"})
	sess := newTestSession(t, f, WithClock(clock.NewManual(time.Unix(0, 0))))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sess.WaitForTask(ctx, TaskID(5), WaitOptions{})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}
