package client

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/filter"
	"pkt.systems/fmg/internal/clock"
)

// TaskRef identifies the task to wait for: a TaskID or the *Response of the
// call that started it.
type TaskRef interface {
	taskRef() (int, bool)
}

// TaskID is a numeric task identifier.
type TaskID int

func (id TaskID) taskRef() (int, bool) { return int(id), id > 0 }

func (r *Response) taskRef() (int, bool) { return r.TaskID() }

// ProgressFunc receives the task percentage and the detail of its latest
// log line ("" before the first line) on every poll.
type ProgressFunc func(percent int, detail string)

// WaitOptions controls WaitForTask.
type WaitOptions struct {
	Callback ProgressFunc
	// Timeout bounds the whole wait (default 60s). It is checked once per
	// poll, so a wait can overrun by up to one interval plus one request.
	Timeout time.Duration
	// Interval is the pause between polls (default: the session's poll
	// interval, 2s).
	Interval time.Duration
}

// WaitForTask polls the task until it reaches a terminal state and returns
// that state. A reference that carries no task id returns "" and no error.
// A task that disappears while polling is ErrTaskNotFound; running out of
// time is a *TaskTimeoutError.
func (s *Session) WaitForTask(ctx context.Context, ref TaskRef, opts WaitOptions) (api.TaskState, error) {
	if ref == nil {
		return "", nil
	}
	id, ok := ref.taskRef()
	if !ok {
		return "", nil
	}
	ctx = s.withCID(ctx)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = s.pollInterval
	}
	start := s.clock.Now()
	s.logDebugCtx(ctx, "client.task.wait", "task", id, "timeout", timeout, "interval", interval)
	for {
		task, found, err := s.fetchTask(ctx, id)
		if err != nil {
			return "", err
		}
		if !found {
			s.logWarnCtx(ctx, "client.task.vanished", "task", id)
			return "", fmt.Errorf("%w: task %d", ErrTaskNotFound, id)
		}
		s.tel.polled(ctx, string(task.State))
		if clock.Since(s.clock, start) > timeout {
			return task.State, &TaskTimeoutError{TaskID: id, Timeout: timeout, Last: task.State}
		}
		if opts.Callback != nil {
			opts.Callback(task.Percent, task.LatestDetail())
		}
		if task.State.Terminal() {
			s.logInfoCtx(ctx, "client.task.finished", "task", id, "state", task.State, "percent", task.Percent)
			return task.State, nil
		}
		s.logTraceCtx(ctx, "client.task.poll", "task", id, "state", task.State, "percent", task.Percent)
		if err := clock.Sleep(ctx, s.clock, interval); err != nil {
			return task.State, err
		}
	}
}

// Task reads a single task.
func (s *Session) Task(ctx context.Context, id int) (api.Task, error) {
	task, found, err := s.fetchTask(s.withCID(ctx), id)
	if err != nil {
		return api.Task{}, err
	}
	if !found {
		return api.Task{}, fmt.Errorf("%w: task %d", ErrTaskNotFound, id)
	}
	return task, nil
}

func (s *Session) fetchTask(ctx context.Context, id int) (api.Task, bool, error) {
	p := api.Params{URL: api.URLTask, Filter: filter.F("id", id).Generate()}
	resp, err := s.do(ctx, &Call{Method: api.MethodGet, Params: []api.Params{p}, Verbose: true})
	if err != nil {
		return api.Task{}, false, err
	}
	tasks, err := DecodeAll[api.Task](resp)
	if err != nil {
		return api.Task{}, false, err
	}
	if len(tasks) == 0 {
		return api.Task{}, false, nil
	}
	return tasks[0], true, nil
}
