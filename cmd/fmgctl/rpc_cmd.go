package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/client"
	"pkt.systems/fmg/filter"
	"pkt.systems/fmg/internal/pathutil"
)

// responseView is the printed form of a client.Response.
type responseView struct {
	Success bool            `json:"success"`
	Status  api.Status      `json:"status"`
	Error   string          `json:"error,omitempty"`
	TaskID  int             `json:"task_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func viewOf(resp *client.Response) responseView {
	if resp == nil {
		return responseView{}
	}
	out := responseView{Success: resp.Success, Status: resp.Status, Error: resp.Error, Data: resp.Data}
	if id, ok := resp.TaskID(); ok {
		out.TaskID = id
	}
	return out
}

// readData parses a --data value. "@file" reads a file and "@-" reads
// stdin. JSON and YAML are both accepted.
func readData(raw string, stdin io.Reader) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "@") {
		path := strings.TrimPrefix(raw, "@")
		var (
			body []byte
			err  error
		)
		if path == "-" {
			body, err = io.ReadAll(stdin)
		} else if path, err = pathutil.Expand(path); err == nil {
			body, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read data %s: %w", path, err)
		}
		raw = string(body)
	}
	var out any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return out, nil
}

func parseFilterFlag(text string) (filter.Expr, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return filter.Parse(text)
}

func newGetCommand(a *app) *cobra.Command {
	var (
		filterText string
		fields     []string
		options    []string
		loadsub    bool
	)
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Read objects at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := parseFilterFlag(filterText)
			if err != nil {
				return err
			}
			req := client.RawRequest{URL: args[0], Filter: expr, Fields: fields, Options: options}
			if cmd.Flags().Changed("loadsub") {
				req.Loadsub = client.Bool(loadsub)
			}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				resp, err := s.Get(ctx, req)
				if err != nil {
					return err
				}
				return a.render(cmd, viewOf(resp))
			})
		},
	}
	cmd.Flags().StringVarP(&filterText, "filter", "f", "", `filter expression, e.g. 'name like "web%" and type == ipmask'`)
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return")
	cmd.Flags().StringSliceVar(&options, "option", nil, "get options (count, scope member, ...)")
	cmd.Flags().BoolVar(&loadsub, "loadsub", false, "load sub tables")
	return cmd
}

func newMutateCommand(a *app, method, short string) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   method + " URL --data JSON",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if payload == nil {
				return fmt.Errorf("%s needs --data", method)
			}
			req := client.Raw(args[0], payload)
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				var resp *client.Response
				switch method {
				case api.MethodAdd:
					resp, err = s.Add(ctx, req)
				case api.MethodSet:
					resp, err = s.Set(ctx, req)
				default:
					resp, err = s.Update(ctx, req)
				}
				if err != nil {
					return err
				}
				return a.render(cmd, viewOf(resp))
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "payload as JSON/YAML, @file or @- for stdin")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete URL",
		Short: "Delete the object at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				resp, err := s.Delete(ctx, client.Raw(args[0], nil))
				if err != nil {
					return err
				}
				return a.render(cmd, viewOf(resp))
			})
		},
	}
}

func newExecCommand(a *app) *cobra.Command {
	var (
		data string
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "exec URL",
		Short: "Run a command URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				resp, err := s.Exec(ctx, client.Raw(args[0], payload))
				if err != nil {
					return err
				}
				return a.finishWithTask(ctx, cmd, s, resp, wait)
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "payload as JSON/YAML, @file or @- for stdin")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task the command starts")
	return cmd
}

func newCloneCommand(a *app) *cobra.Command {
	var (
		data       string
		createTask bool
		taskName   string
		wait       bool
	)
	cmd := &cobra.Command{
		Use:   "clone URL --data '{\"name\":\"copy\"}'",
		Short: "Copy the object at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readData(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			changes, ok := payload.(map[string]any)
			if !ok {
				return fmt.Errorf("clone needs --data with at least the new name")
			}
			opts := client.CloneOptions{Changes: changes, CreateTask: createTask || wait, TaskName: taskName}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				resp, err := s.Clone(ctx, client.Raw(args[0], nil), opts)
				if err != nil {
					return err
				}
				return a.finishWithTask(ctx, cmd, s, resp, wait)
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "attributes of the copy as JSON/YAML")
	cmd.Flags().BoolVar(&createTask, "create-task", false, "run the clone as a background task")
	cmd.Flags().StringVar(&taskName, "task-name", "", "name of the background task")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "run as a task and wait for it")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the FortiManager system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				st, err := s.Status(ctx)
				if err != nil {
					return err
				}
				return a.render(cmd, st)
			})
		},
	}
}

func newADOMsCommand(a *app) *cobra.Command {
	var filterText string
	cmd := &cobra.Command{
		Use:   "adoms",
		Short: "List ADOM names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := parseFilterFlag(filterText)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				names, err := s.ADOMs(ctx, expr)
				if err != nil {
					return err
				}
				return a.render(cmd, names)
			})
		},
	}
	cmd.Flags().StringVarP(&filterText, "filter", "f", "", "filter expression")
	return cmd
}

func newFilterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Work with filter expressions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "parse EXPRESSION",
		Short: "Print the wire form of a filter expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := filter.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.render(cmd, filter.Generate(expr))
		},
	})
	return cmd
}
