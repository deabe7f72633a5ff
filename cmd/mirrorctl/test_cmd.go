package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openmined/mirrorctl/internal/config"
	"github.com/openmined/mirrorctl/internal/remote"
	"github.com/openmined/mirrorctl/internal/transfer"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newTestCmd())
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check local tools, ssh login and the remote project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			return runChecks(cmd.Context(), cmd.OutOrStdout(), connectionChecks(cfg))
		},
	}
}

func connectionChecks(cfg *config.Config) []check {
	shell := cfg.Shell()
	return []check{
		{"local rsync", func(ctx context.Context) (string, error) {
			caps, err := transfer.DetectCapabilities(ctx, cfg.RsyncPath)
			if err != nil {
				return "", err
			}
			return caps.String(), nil
		}},
		{"ssh login", func(ctx context.Context) (string, error) {
			if err := shell.Check(ctx); err != nil {
				return "", err
			}
			return shell.Target(), nil
		}},
		{"remote rsync", func(ctx context.Context) (string, error) {
			out, err := shell.Run(ctx, "rsync --version")
			if err != nil {
				return "", err
			}
			first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
			return first, nil
		}},
		{"remote root", func(ctx context.Context) (string, error) {
			if _, err := shell.Run(ctx, "test -d "+remote.Quote(cfg.RemoteRoot)); err != nil {
				return "", fmt.Errorf("%s is not a directory on %s", cfg.RemoteRoot, cfg.RemoteHost)
			}
			return cfg.RemoteRoot, nil
		}},
	}
}

// runChecks runs every check, even after a failure, and fails if any did.
func runChecks(ctx context.Context, w io.Writer, checks []check) error {
	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", red.Render("✗"), c.name, err)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", green.Render("✓"), c.name, gray.Render(detail))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}
