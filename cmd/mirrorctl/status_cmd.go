package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/mirrorctl/internal/config"
	"github.com/openmined/mirrorctl/internal/lock"
	"github.com/openmined/mirrorctl/internal/remote"
	"github.com/openmined/mirrorctl/internal/transfer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// added to the connect timeout for remote du
const remoteSizeSlack = 5 * time.Second

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

type statusReport struct {
	LocalRoot  string      `yaml:"local_root"`
	Remote     string      `yaml:"remote"`
	Auth       string      `yaml:"auth"`
	Exclude    []string    `yaml:"exclude"`
	WatchMode  string      `yaml:"watch_mode"`
	ConfigFile string      `yaml:"config_file,omitempty"`
	Rsync      string      `yaml:"rsync"`
	Lock       lockStatus  `yaml:"lock"`
	SyncDirs   []dirStatus `yaml:"sync_dirs"`
}

type lockStatus struct {
	Path string `yaml:"path"`
	Held bool   `yaml:"held"`
	PID  int    `yaml:"pid,omitempty"`
}

type dirStatus struct {
	Name       string `yaml:"name"`
	LocalBytes uint64 `yaml:"local_bytes"`
	Local      string `yaml:"local"`
	Remote     string `yaml:"remote,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asYAML, noRemote bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configuration, lock holder and sync dir sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}

			report := collectStatus(cmd.Context(), cfg, !noRemote)
			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return enc.Close()
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the status as YAML")
	cmd.Flags().BoolVar(&noRemote, "no-remote", false, "skip remote size queries")
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config, withRemote bool) *statusReport {
	shell := cfg.Shell()
	report := &statusReport{
		LocalRoot:  cfg.LocalRoot,
		Remote:     shell.Target() + ":" + cfg.RemoteRoot,
		Auth:       cfg.Auth,
		Exclude:    cfg.Exclusions().Base.Patterns(),
		WatchMode:  cfg.WatchMode,
		ConfigFile: cfg.Path,
	}

	lockPath := lock.PathFor(cfg.LockDir, cfg.LocalRoot)
	report.Lock.Path = lockPath
	report.Lock.PID, report.Lock.Held = lock.Holder(lockPath)

	if caps, err := transfer.DetectCapabilities(ctx, cfg.RsyncPath); err != nil {
		report.Rsync = "unavailable"
		slog.Debug("status rsync probe", "error", err)
	} else {
		report.Rsync = caps.String()
	}

	for _, name := range cfg.SyncDirs {
		ds := dirStatus{Name: name, Local: "missing"}
		if size, err := dirSize(filepath.Join(cfg.LocalRoot, filepath.FromSlash(name))); err == nil {
			ds.LocalBytes = size
			ds.Local = humanize.Bytes(size)
		}
		if withRemote {
			ds.Remote = remoteSize(ctx, shell, path.Join(cfg.RemoteRoot, name))
		}
		report.SyncDirs = append(report.SyncDirs, ds)
	}
	return report
}

// dirSize sums the sizes of the regular files under dir.
func dirSize(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	return total, err
}

func remoteSize(ctx context.Context, shell *remote.Shell, dir string) string {
	timeout := shell.ConnectTimeout
	if timeout <= 0 {
		timeout = remote.DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+remoteSizeSlack)
	defer cancel()

	out, err := shell.Run(ctx, "du -sh "+remote.Quote(dir))
	if err != nil {
		slog.Debug("status remote size", "dir", dir, "error", err)
		return "unavailable"
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "unavailable"
	}
	return fields[0]
}

func printStatus(w io.Writer, r *statusReport) {
	row := func(k, v string) {
		fmt.Fprintf(w, "%s %s\n", gray.Render(fmt.Sprintf("%-12s", k)), v)
	}

	fmt.Fprintln(w, bold.Render("mirrorctl status"))
	row("local", r.LocalRoot)
	row("remote", r.Remote)
	row("auth", r.Auth)
	row("exclude", strings.Join(r.Exclude, " "))
	row("watch", r.WatchMode)
	if r.ConfigFile != "" {
		row("config", r.ConfigFile)
	}
	row("rsync", r.Rsync)
	switch {
	case r.Lock.Held && r.Lock.PID > 0:
		row("lock", yellow.Render(fmt.Sprintf("held by pid %d", r.Lock.PID)))
	case r.Lock.Held:
		row("lock", yellow.Render("held (starting)"))
	default:
		row("lock", green.Render("free"))
	}

	if len(r.SyncDirs) == 0 {
		row("sync dirs", "none")
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold.Render("sync dirs"))
	for _, d := range r.SyncDirs {
		line := fmt.Sprintf("  %-20s local %-10s", d.Name, d.Local)
		if d.Remote != "" {
			line += " remote " + d.Remote
		}
		fmt.Fprintln(w, line)
	}
}
