package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/mirrorctl/internal/lock"
	"github.com/openmined/mirrorctl/internal/mirror"
	"github.com/openmined/mirrorctl/internal/utils"
	"github.com/openmined/mirrorctl/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const exitInterrupted = 130

var (
	logLevel      = new(slog.LevelVar)
	stderrHandler slog.Handler
	logFile       io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "mirrorctl",
	Short: "Mirror a project to a remote host and pull its outputs back",
	Long: `mirrorctl keeps a local project and its copy on a remote host in sync
using rsync over ssh. Code goes up, the configured sync dirs come back down,
and every deletion is confirmed before it happens.

Run without a command to open the interactive menu.`,
	Version:       version.Detailed(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logLevel.Set(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return runMenu(cmd.Context(), a)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default ./.mirrorctl.yaml or ~/.config/mirrorctl/config.yaml)")
	fs.String("local-root", "", "local project root")
	fs.String("host", "", "remote host")
	fs.String("user", "", "remote ssh user")
	fs.Int("port", 0, "remote ssh port")
	fs.String("remote-root", "", "remote project root")
	fs.Bool("dry-run", false, "show what would change without transferring")
	fs.BoolP("yes", "y", false, "skip typed confirmations for push-all and pull-all")
	fs.BoolP("verbose", "v", false, "debug logging on stderr")
}

func main() {
	setupLogging(os.Stderr)
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI until it finishes or SIGINT/SIGTERM arrives.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, args)
	stop()

	if logFile != nil {
		logFile.Close()
	}
	return code
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, mirror.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return 1
	}
}

func printError(w io.Writer, err error) {
	var contention *lock.ContentionError
	switch {
	case errors.Is(err, mirror.ErrInterrupted), errors.Is(err, context.Canceled):
		fmt.Fprintln(w, yellow.Render("interrupted"))
	case errors.Is(err, mirror.ErrCancelled):
		fmt.Fprintln(w, yellow.Render("cancelled"))
	case errors.As(err, &contention):
		fmt.Fprintln(w, red.Render("Error: "+err.Error()))
		fmt.Fprintln(w, gray.Render("wait for it to finish, or stop it, then try again"))
	default:
		fmt.Fprintln(w, red.Render("Error: "+err.Error()))
	}
}

// setupLogging installs the stderr handler. The file handler is added once
// the configuration names the log file.
func setupLogging(w *os.File) {
	logLevel.Set(slog.LevelWarn)
	stderrHandler = tint.NewHandler(w, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
	slog.SetDefault(slog.New(stderrHandler))
}

// attachLogFile fans logging out to path at debug level.
func attachLogFile(path string) error {
	if logFile != nil || path == "" {
		return nil
	}
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// time is added by the interceptor
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	handlers := []slog.Handler{fileHandler}
	if stderrHandler != nil {
		handlers = append(handlers, stderrHandler)
	}
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
	logFile = closers{interceptor, file}
	return nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
