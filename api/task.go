package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TaskState is the lifecycle state of a server-side task.
type TaskState string

// Task states in server enumeration order. The server may send either the
// name or the numeric index into this list.
const (
	TaskPending    TaskState = "pending"
	TaskRunning    TaskState = "running"
	TaskCancelling TaskState = "cancelling"
	TaskCancelled  TaskState = "cancelled"
	TaskDone       TaskState = "done"
	TaskError      TaskState = "error"
	TaskAborting   TaskState = "aborting"
	TaskAborted    TaskState = "aborted"
	TaskWarning    TaskState = "warning"
	TaskToContinue TaskState = "to_continue"
	TaskUnknown    TaskState = "unknown"
)

var taskStates = []TaskState{
	TaskPending,
	TaskRunning,
	TaskCancelling,
	TaskCancelled,
	TaskDone,
	TaskError,
	TaskAborting,
	TaskAborted,
	TaskWarning,
	TaskToContinue,
	TaskUnknown,
}

// TaskStates returns every known state in enumeration order.
func TaskStates() []TaskState {
	out := make([]TaskState, len(taskStates))
	copy(out, taskStates)
	return out
}

// Terminal reports whether nothing more is expected from a task in this
// state. to_continue and unknown are terminal without being successful.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCancelled, TaskDone, TaskError, TaskAborted, TaskToContinue, TaskUnknown:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	for _, known := range taskStates {
		if s == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts the state name or its numeric index.
func (s *TaskState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		if idx, convErr := strconv.Atoi(name); convErr == nil {
			return s.fromIndex(idx)
		}
		*s = TaskState(name)
		return nil
	}
	var idx int
	if err := json.Unmarshal(b, &idx); err != nil {
		return fmt.Errorf("api: task state %s: %w", string(b), err)
	}
	return s.fromIndex(idx)
}

func (s *TaskState) fromIndex(idx int) error {
	if idx < 0 || idx >= len(taskStates) {
		return fmt.Errorf("api: task state index %d out of range", idx)
	}
	*s = taskStates[idx]
	return nil
}

// Task is a server-tracked asynchronous job read from /task/task.
type Task struct {
	ID        int        `json:"id"`
	ADOM      int        `json:"adom,omitempty"`
	Title     string     `json:"title,omitempty"`
	User      string     `json:"user,omitempty"`
	Source    any        `json:"src,omitempty"`
	State     TaskState  `json:"state"`
	Percent   int        `json:"percent"`
	TotalPct  int        `json:"tot_percent,omitempty"`
	NumLines  int        `json:"num_lines,omitempty"`
	NumDone   int        `json:"num_done,omitempty"`
	NumErr    int        `json:"num_err,omitempty"`
	NumWarn   int        `json:"num_warn,omitempty"`
	StartTime int64      `json:"start_tm,omitempty"`
	EndTime   int64      `json:"end_tm,omitempty"`
	Lines     []TaskLine `json:"line,omitempty"`
}

// LatestDetail returns the detail of the last log line, or "".
func (t Task) LatestDetail() string {
	if len(t.Lines) == 0 {
		return ""
	}
	return t.Lines[len(t.Lines)-1].Detail
}

// TaskLine is one step of a task.
type TaskLine struct {
	Name      string            `json:"name"`
	Detail    string            `json:"detail,omitempty"`
	IP        string            `json:"ip,omitempty"`
	VDOM      string            `json:"vdom,omitempty"`
	OID       int               `json:"oid,omitempty"`
	Percent   int               `json:"percent"`
	State     TaskState         `json:"state"`
	Err       int               `json:"err,omitempty"`
	StartTime int64             `json:"start_tm,omitempty"`
	EndTime   int64             `json:"end_tm,omitempty"`
	History   []TaskLineHistory `json:"history,omitempty"`
}

// TaskLineHistory is a historical entry of a task line.
type TaskLineHistory struct {
	Name    string `json:"name"`
	Detail  string `json:"detail"`
	Percent int    `json:"percent"`
	VDOM    string `json:"vdom,omitempty"`
}
