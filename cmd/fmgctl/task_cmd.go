package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/client"
)

type taskView struct {
	ID       int           `json:"id"`
	Title    string        `json:"title,omitempty"`
	User     string        `json:"user,omitempty"`
	State    api.TaskState `json:"state"`
	Percent  int           `json:"percent"`
	Started  string        `json:"started,omitempty"`
	Finished string        `json:"finished,omitempty"`
	Took     string        `json:"took,omitempty"`
	Errors   int           `json:"errors,omitempty"`
	Warnings int           `json:"warnings,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

func viewOfTask(t api.Task) taskView {
	out := taskView{
		ID: t.ID, Title: t.Title, User: t.User, State: t.State, Percent: t.Percent,
		Errors: t.NumErr, Warnings: t.NumWarn, Detail: t.LatestDetail(),
	}
	if t.StartTime > 0 {
		start := time.Unix(t.StartTime, 0)
		out.Started = humanize.Time(start)
		if t.EndTime >= t.StartTime {
			end := time.Unix(t.EndTime, 0)
			out.Finished = humanize.Time(end)
			out.Took = humanize.RelTime(start, end, "", "")
		}
	}
	return out
}

// progressPrinter writes one line per change of percent or detail.
func progressPrinter(w io.Writer, id int) client.ProgressFunc {
	lastPercent, lastDetail := -1, ""
	started := time.Now()
	return func(percent int, detail string) {
		if percent == lastPercent && detail == lastDetail {
			return
		}
		lastPercent, lastDetail = percent, detail
		fmt.Fprintf(w, "task %d: %3d%% %s (started %s)\n", id, percent, detail, humanize.Time(started))
	}
}

func (a *app) waitOptions(w io.Writer, id int) (client.WaitOptions, error) {
	cfg, err := a.config()
	if err != nil {
		return client.WaitOptions{}, err
	}
	return client.WaitOptions{
		Callback: progressPrinter(w, id),
		Timeout:  cfg.TaskTimeout,
		Interval: cfg.PollInterval,
	}, nil
}

// waitTask waits for id, prints the final task and fails unless it is done.
func (a *app) waitTask(ctx context.Context, cmd *cobra.Command, s *client.Session, id int) error {
	opts, err := a.waitOptions(cmd.ErrOrStderr(), id)
	if err != nil {
		return err
	}
	state, err := s.WaitForTask(ctx, client.TaskID(id), opts)
	if err != nil {
		return err
	}
	task, err := s.Task(ctx, id)
	if err != nil {
		return err
	}
	if err := a.render(cmd, viewOfTask(task)); err != nil {
		return err
	}
	if state != api.TaskDone {
		return fmt.Errorf("task %d finished in state %s", id, state)
	}
	return nil
}

// finishWithTask prints resp, or waits for its task when wait is set.
func (a *app) finishWithTask(ctx context.Context, cmd *cobra.Command, s *client.Session, resp *client.Response, wait bool) error {
	id, ok := resp.TaskID()
	if !wait || !ok {
		return a.render(cmd, viewOf(resp))
	}
	return a.waitTask(ctx, cmd, s, id)
}

func newTaskCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and wait for server tasks",
	}
	parseID := func(raw string) (int, error) {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid task id %q", raw)
		}
		return id, nil
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show ID",
			Short: "Show a task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
					task, err := s.Task(ctx, id)
					if err != nil {
						return err
					}
					return a.render(cmd, viewOfTask(task))
				})
			},
		},
		&cobra.Command{
			Use:   "wait ID",
			Short: "Wait until a task finishes, printing progress on stderr",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
					return a.waitTask(ctx, cmd, s, id)
				})
			},
		},
	)
	return cmd
}
