package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/openmined/mirrorctl/internal/transfer"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newSendPullCmd())
	rootCmd.AddCommand(newPushAllCmd())
	rootCmd.AddCommand(newPullAllCmd())
}

// runLocked wires an app holding the process lock and runs fn with it.
func runLocked(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Push code to the remote, excluding the sync dirs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				return a.send(cmd.Context())
			})
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [dir...]",
		Short: "Pull the sync dirs (or only the named ones) from the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				ds, err := a.pullDirectives(args)
				if err != nil {
					return err
				}
				return a.sync(cmd.Context(), ds)
			})
		},
	}
}

func newSendPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-pull",
		Short: "Push code, then pull every sync dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				return a.sendPull(cmd.Context())
			})
		},
	}
}

func newPushAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push-all",
		Short: "Push the whole project, sync dirs included",
		Long: `Push the whole project to the remote, sync dirs included.

This overwrites remote outputs with the local copies. You are asked to type
'push all' first unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				return a.pushAll(cmd.Context())
			})
		},
	}
}

func newPullAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull-all",
		Short: "Pull the whole project, code included",
		Long: `Pull the whole remote project, code included.

This overwrites local code with the remote copies. You are asked to type
'pull all' first unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				return a.pullAll(cmd.Context())
			})
		},
	}
}

func (a *app) send(ctx context.Context) error {
	return a.sync(ctx, []transfer.Directive{a.layout.CodePush(false)})
}

func (a *app) sendPull(ctx context.Context) error {
	ds := append([]transfer.Directive{a.layout.CodePush(false)}, a.layout.SyncDirPulls()...)
	return a.sync(ctx, ds)
}

func (a *app) pushAll(ctx context.Context) error {
	what := fmt.Sprintf("push-all replaces everything under %s:%s with %s", a.cfg.RemoteHost, a.cfg.RemoteRoot, a.cfg.LocalRoot)
	if err := a.confirmPhrase(ctx, "push all", what); err != nil {
		return err
	}
	return a.sync(ctx, []transfer.Directive{a.layout.FullPush()})
}

func (a *app) pullAll(ctx context.Context) error {
	what := fmt.Sprintf("pull-all replaces everything under %s with %s:%s", a.cfg.LocalRoot, a.cfg.RemoteHost, a.cfg.RemoteRoot)
	if err := a.confirmPhrase(ctx, "pull all", what); err != nil {
		return err
	}
	return a.sync(ctx, []transfer.Directive{a.layout.FullPull()})
}

// pullDirectives maps names to sync-dir pulls; no names means all of them.
func (a *app) pullDirectives(names []string) ([]transfer.Directive, error) {
	if len(a.cfg.SyncDirs) == 0 {
		return nil, fmt.Errorf("no sync_dirs configured, nothing to pull")
	}
	if len(names) == 0 {
		return a.layout.SyncDirPulls(), nil
	}

	ds := make([]transfer.Directive, 0, len(names))
	for _, name := range names {
		name = strings.Trim(name, "/")
		if !a.cfg.HasSyncDir(name) {
			return nil, fmt.Errorf("unknown sync dir %q (configured: %s)", name, strings.Join(a.cfg.SyncDirs, ", "))
		}
		ds = append(ds, a.layout.DirPull(name))
	}
	return ds, nil
}
