package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openmined/mirrorctl/internal/mirror"
	"github.com/openmined/mirrorctl/internal/transfer"
	"github.com/openmined/mirrorctl/internal/watch"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Push code every time the local tree changes",
		Long: `Push code once, then again every time files under the local root change.

Watch-triggered pushes delete remote files that were removed locally without
asking. A failed push is logged and watching continues until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocked(cmd, func(a *app) error {
				if mode != "" {
					a.cfg.WatchMode = mode
				}
				return a.watch(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "watch strategy: auto, events or poll (default from config)")
	return cmd
}

func (a *app) watch(ctx context.Context) error {
	push := func(ctx context.Context) error {
		return a.sync(ctx, []transfer.Directive{a.layout.CodePush(true)})
	}

	// initial push so the remote starts from the current tree
	if err := push(ctx); err != nil {
		if ctx.Err() != nil {
			return mirror.ErrInterrupted
		}
		slog.Warn("initial push failed, watching anyway", "error", err)
	}

	driver, err := watch.New(watch.Options{
		Root:       a.cfg.LocalRoot,
		Mode:       a.cfg.WatchMode,
		Exclusions: a.layout.Exclusions.Code,
		Interval:   a.cfg.WatchInterval,
		Debounce:   a.cfg.WatchDebounce,
		MarkerPath: a.markerPath(),
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	fmt.Fprintln(a.out, cyan.Render(fmt.Sprintf("watching %s (%s), ctrl-c to stop", a.cfg.LocalRoot, driver.Mode())))
	err = driver.Run(ctx, push)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return mirror.ErrInterrupted
	}
	return err
}

// markerPath is the polling timestamp file, kept next to the lock.
func (a *app) markerPath() string {
	return strings.TrimSuffix(a.lockPath(), ".lock") + ".watch"
}
