package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/fmg/client"
)

type lockView struct {
	Workspace bool     `json:"workspace_mode"`
	Locked    []string `json:"locked"`
}

func newLockCommand(a *app) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "lock [ADOM...]",
		Short: "Lock ADOMs and hold the lock until interrupted",
		Long: `Lock ADOMs (default: the configured ADOM) and keep the session open until
SIGINT/SIGTERM. On exit pending changes are committed unless --discard is
given, then the ADOMs are unlocked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd, discard, func(ctx context.Context, s *client.Session) error {
				adoms := args
				if len(adoms) == 0 {
					adoms = []string{s.ADOM()}
				}
				ws := s.Workspace()
				if err := ws.CheckMode(ctx); err != nil {
					return err
				}
				if !ws.UsesWorkspace() {
					return fmt.Errorf("workspace mode is disabled, nothing to lock")
				}
				if err := ws.Lock(ctx, adoms...); err != nil {
					return err
				}
				if err := a.render(cmd, lockView{Workspace: true, Locked: ws.LockedADOMs()}); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "do not commit pending changes on exit")
	return cmd
}

func newUnlockCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock ADOM...",
		Short: "Release workspace locks held by this user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *client.Session) error {
				if err := s.Workspace().Unlock(ctx, args...); err != nil {
					return err
				}
				return a.render(cmd, map[string][]string{"unlocked": args})
			})
		},
	}
}

type commitView struct {
	ADOM string `json:"adom"`
	responseView
}

func newCommitCommand(a *app) *cobra.Command {
	var aux bool
	cmd := &cobra.Command{
		Use:   "commit [ADOM...]",
		Short: "Lock, commit and unlock ADOMs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The commit happens here; closing only unlocks.
			return a.runSession(cmd, true, func(ctx context.Context, s *client.Session) error {
				adoms := args
				if len(adoms) == 0 {
					adoms = []string{s.ADOM()}
				}
				ws := s.Workspace()
				if err := ws.CheckMode(ctx); err != nil {
					return err
				}
				if !ws.UsesWorkspace() {
					return fmt.Errorf("workspace mode is disabled, changes apply without commit")
				}
				if err := ws.Lock(ctx, adoms...); err != nil {
					return err
				}
				resps, err := ws.Commit(ctx, client.CommitOptions{ADOMs: adoms, Aux: aux})
				if err != nil {
					return err
				}
				out := make([]commitView, 0, len(resps))
				failed := 0
				for i, resp := range resps {
					if !resp.OK() {
						failed++
					}
					out = append(out, commitView{ADOM: adoms[i], responseView: viewOf(resp)})
				}
				if err := a.render(cmd, out); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d commits failed", failed, len(resps))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&aux, "aux", false, "commit auxiliary (dynamic) changes")
	return cmd
}
