package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultBinary      = "rsync"
	DefaultIdleTimeout = 60 * time.Second
	// grace period between SIGTERM and SIGKILL on cancellation
	terminateWait = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("a transfer is already running")

// RemoteShell supplies how rsync reaches the remote host.
type RemoteShell interface {
	// RsyncShell is the value passed to rsync's -e flag.
	RsyncShell() string
	// Env is appended to the child environment (credentials travel here,
	// never on the command line).
	Env() []string
}

// Output is the result of a plan (dry-run) invocation.
type Output struct {
	ExitCode int
	Raw      []byte
}

// Invoker builds and runs rsync for the plan and apply phases. At most one
// child runs at a time.
type Invoker struct {
	Binary       string
	IdleTimeout  time.Duration
	Capabilities Capabilities
	Shell        RemoteShell
	Scratch      *Scratch

	active   *exec.Cmd
	activeMu sync.Mutex
}

// NewInvoker creates an invoker with default binary and timeout.
func NewInvoker(shell RemoteShell, scratch *Scratch) *Invoker {
	return &Invoker{
		Binary:       DefaultBinary,
		IdleTimeout:  DefaultIdleTimeout,
		Capabilities: Capabilities{ProgressFlag: ProgressCoarse},
		Shell:        shell,
		Scratch:      scratch,
	}
}

// PlanArgs returns the rsync arguments of the simulate-only run. Deletion
// detection is always on so that the gate sees every pending deletion.
func (inv *Invoker) PlanArgs(d Directive) []string {
	args := inv.commonArgs(d)
	args = append(args, "--dry-run", "--delete")
	return append(args, inv.operands(d)...)
}

// ApplyArgs returns the rsync arguments of the real transfer.
func (inv *Invoker) ApplyArgs(d Directive, useDelete bool) []string {
	args := inv.commonArgs(d)
	args = append(args, inv.Capabilities.ProgressFlag)
	if useDelete {
		args = append(args, "--delete")
	}
	return append(args, inv.operands(d)...)
}

func (inv *Invoker) commonArgs(d Directive) []string {
	args := []string{"-a", "-z", "--itemize-changes"}

	if secs := int(inv.IdleTimeout / time.Second); secs > 0 {
		args = append(args, "--timeout="+strconv.Itoa(secs))
	}
	if inv.Shell != nil && (d.Source.IsRemote() || d.Destination.IsRemote()) {
		if sh := inv.Shell.RsyncShell(); sh != "" {
			args = append(args, "-e", sh)
		}
	}
	return append(args, d.Exclusions.Args()...)
}

func (inv *Invoker) operands(d Directive) []string {
	return []string{d.Source.Operand(), d.Destination.Operand()}
}

// Plan runs the dry-run and blocks until it exits. A non-zero rsync exit is
// reported in Output.ExitCode, not as an error.
func (inv *Invoker) Plan(ctx context.Context, d Directive) (*Output, error) {
	f, err := inv.scratch().Create("mirrorctl-plan-*.log")
	if err != nil {
		return nil, err
	}
	defer inv.scratch().Release(f)

	cmd := inv.command(ctx, inv.PlanArgs(d), f)
	slog.Debug("transfer plan", "label", d.Label, "args", cmd.Args[1:])

	if err := inv.start(cmd); err != nil {
		return nil, err
	}
	code, waitErr := inv.wait(ctx, cmd)
	if waitErr != nil {
		return nil, waitErr
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind plan output: %w", err)
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read plan output: %w", err)
	}

	return &Output{ExitCode: code, Raw: raw}, nil
}

// Apply starts the real transfer and returns immediately. The caller must
// Wait for the handle and then Close it.
func (inv *Invoker) Apply(ctx context.Context, d Directive, useDelete bool) (*Handle, error) {
	f, err := inv.scratch().Create("mirrorctl-apply-*.log")
	if err != nil {
		return nil, err
	}

	cmd := inv.command(ctx, inv.ApplyArgs(d, useDelete), f)
	slog.Debug("transfer apply", "label", d.Label, "delete", useDelete, "args", cmd.Args[1:])

	if err := inv.start(cmd); err != nil {
		inv.scratch().Release(f)
		return nil, err
	}

	return newHandle(ctx, inv, cmd, f), nil
}

// Terminate signals the running child, if any. The goroutine waiting on the
// child reaps it.
func (inv *Invoker) Terminate() {
	inv.activeMu.Lock()
	cmd := inv.active
	inv.activeMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	slog.Debug("transfer terminate", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = cmd.Process.Kill()
	}
}

// Running reports whether a child is currently running.
func (inv *Invoker) Running() bool {
	inv.activeMu.Lock()
	defer inv.activeMu.Unlock()
	return inv.active != nil
}

func (inv *Invoker) command(ctx context.Context, args []string, out *os.File) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.binary(), args...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = os.Environ()
	if inv.Shell != nil {
		cmd.Env = append(cmd.Env, inv.Shell.Env()...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateWait
	return cmd
}

func (inv *Invoker) start(cmd *exec.Cmd) error {
	inv.activeMu.Lock()
	defer inv.activeMu.Unlock()

	if inv.active != nil {
		return ErrAlreadyRunning
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", inv.binary(), err)
	}
	inv.active = cmd
	return nil
}

// wait joins the child and maps its exit status. Cancellation wins over the
// exit code the signal produced.
func (inv *Invoker) wait(ctx context.Context, cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()

	inv.activeMu.Lock()
	if inv.active == cmd {
		inv.active = nil
	}
	inv.activeMu.Unlock()

	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if err == nil {
		return ExitOK, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait %s: %w", inv.binary(), err)
}

func (inv *Invoker) binary() string {
	if inv.Binary == "" {
		return DefaultBinary
	}
	return inv.Binary
}

func (inv *Invoker) scratch() *Scratch {
	if inv.Scratch == nil {
		inv.Scratch = NewScratch("")
	}
	return inv.Scratch
}
