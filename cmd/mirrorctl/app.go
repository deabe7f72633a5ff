package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/mirrorctl/internal/config"
	"github.com/openmined/mirrorctl/internal/gate"
	"github.com/openmined/mirrorctl/internal/lock"
	"github.com/openmined/mirrorctl/internal/mirror"
	"github.com/openmined/mirrorctl/internal/progress"
	"github.com/openmined/mirrorctl/internal/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> config key
var flagKeys = map[string]string{
	"local-root":  "local_root",
	"host":        "remote_host",
	"user":        "remote_user",
	"port":        "remote_port",
	"remote-root": "remote_root",
}

// app is everything a sync command needs, wired from the configuration.
type app struct {
	cfg         *config.Config
	out         io.Writer
	in          *bufio.Reader
	interactive bool
	tty         bool
	yes         bool

	layout  mirror.Layout
	orch    *mirror.Orchestrator
	session *mirror.Session
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(v, configFile)
}

// loadValidConfig loads, validates and starts file logging.
func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := attachLogFile(cfg.LogFile); err != nil {
		slog.Warn("log file disabled", "error", err)
	}
	return cfg, nil
}

// newApp wires a sync-capable app. With takeLock it also acquires the
// process lock; Close must be called in every case.
func newApp(cmd *cobra.Command, takeLock bool) (*app, error) {
	cfg, err := loadValidConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.CheckTools(exec.LookPath); err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()
	a := &app{
		cfg:         cfg,
		out:         out,
		in:          bufio.NewReader(in),
		interactive: isTerminal(in),
		tty:         isTerminal(out),
		layout:      mirror.NewLayout(cfg),
	}
	a.yes, _ = cmd.Flags().GetBool("yes")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	scratch := transfer.NewScratch("")
	inv := transfer.NewInvoker(cfg.Shell(), scratch)
	inv.Binary = cfg.RsyncPath
	inv.IdleTimeout = cfg.IdleTimeout
	if caps, err := transfer.DetectCapabilities(cmd.Context(), cfg.RsyncPath); err != nil {
		slog.Warn("rsync version unknown, using coarse progress", "error", err)
	} else {
		inv.Capabilities = caps
	}

	term := progress.NewTerminal(out, a.tty)
	a.session = &mirror.Session{Invoker: inv, Scratch: scratch, Terminal: term}
	a.orch = &mirror.Orchestrator{
		Transport:        mirror.InvokerTransport(inv),
		Gate:             gate.New(a.in, out, a.interactive),
		Terminal:         term,
		Out:              out,
		TTY:              a.tty,
		DryRun:           dryRun,
		ProgressInterval: cfg.ProgressEvery,
	}

	if takeLock {
		lk := lock.New(a.lockPath())
		if err := lk.Acquire(); err != nil {
			return nil, err
		}
		a.session.Lock = lk
	}

	slog.Debug("app ready", "root", cfg.LocalRoot, "remote", cfg.RemoteHost, "rsync", inv.Capabilities.String(), "dry_run", dryRun)
	return a, nil
}

func (a *app) lockPath() string {
	return lock.PathFor(a.cfg.LockDir, a.cfg.LocalRoot)
}

func (a *app) Close() {
	a.session.Teardown()
}

// sync runs directives and prints their summary.
func (a *app) sync(ctx context.Context, ds []transfer.Directive) error {
	agg := a.orch.RunAll(ctx, ds)
	a.printSummary(agg)
	return agg.Err()
}

func (a *app) printSummary(agg *mirror.Aggregate) {
	fmt.Fprintln(a.out)
	for _, r := range agg.Results {
		fmt.Fprintln(a.out, resultStyle(r).Render(mirror.FormatResult(r)))
	}
	if overall := mirror.FormatOverall(agg); overall != "" {
		style := green
		if agg.Err() != nil {
			style = yellow
		}
		fmt.Fprintln(a.out, bold.Inherit(style).Render(overall))
	}
}

func resultStyle(r *mirror.Result) lipgloss.Style {
	switch {
	case r.Failed():
		return red
	case r.Interrupted(), r.State == mirror.Cancelled:
		return yellow
	case r.State == mirror.Empty:
		return gray
	default:
		return green
	}
}

// confirmPhrase asks the user to type phrase. --yes skips the question; an
// unattended run without --yes is cancelled.
func (a *app) confirmPhrase(ctx context.Context, phrase, what string) error {
	if a.yes {
		return nil
	}
	if !a.interactive {
		slog.Warn("refusing unattended run without --yes", "operation", phrase)
		return mirror.ErrCancelled
	}

	fmt.Fprintf(a.out, "%s\n%s ", yellow.Render(what), fmt.Sprintf("Type '%s' to continue:", phrase))
	line, err := gate.ReadLine(ctx, a.in)
	if err != nil {
		if ctx.Err() != nil {
			return mirror.ErrInterrupted
		}
		return mirror.ErrCancelled
	}
	if strings.TrimSpace(line) != phrase {
		return mirror.ErrCancelled
	}
	return nil
}
