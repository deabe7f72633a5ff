// Package mirror runs sync directives through the plan, confirm and apply
// cycle and reports what happened.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openmined/mirrorctl/internal/changes"
	"github.com/openmined/mirrorctl/internal/gate"
	"github.com/openmined/mirrorctl/internal/progress"
	"github.com/openmined/mirrorctl/internal/transfer"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	Planning State = iota
	ScanFailed
	Empty
	Previewed
	NeedsGateDecision
	Cancelled
	Applying
	Failed
	Summarized
)

var stateNames = [...]string{
	Planning:          "planning",
	ScanFailed:        "scan-failed",
	Empty:             "empty",
	Previewed:         "previewed",
	NeedsGateDecision: "needs-gate-decision",
	Cancelled:         "cancelled",
	Applying:          "applying",
	Failed:            "failed",
	Summarized:        "summarized",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Decider is the deletion gate.
type Decider interface {
	Decide(ctx context.Context, label string, deletions []string, autoDelete bool) (gate.Decision, error)
}

// Result is the outcome of one directive. State is the last state reached;
// a run interrupted part way keeps the state it was in and Err is
// ErrInterrupted.
type Result struct {
	Label    string
	State    State
	Decision gate.Decision
	Plan     *changes.Report
	Applied  *changes.Report
	ExitCode int
	Elapsed  time.Duration
	Err      error
}

func (r *Result) Interrupted() bool {
	return errors.Is(r.Err, ErrInterrupted)
}

// Failed reports a scan or transfer failure.
func (r *Result) Failed() bool {
	return r.State == ScanFailed || r.State == Failed
}

// Aggregate collects the results of a composite operation.
type Aggregate struct {
	Results []*Result
}

// Err folds the results into one error: an interrupt wins, then failures,
// then cancellations.
func (a *Aggregate) Err() error {
	var failed []string
	cancelled := false
	for _, r := range a.Results {
		switch {
		case r.Interrupted():
			return ErrInterrupted
		case r.Failed():
			failed = append(failed, r.Label)
		case r.State == Cancelled:
			cancelled = true
		}
	}

	if len(failed) > 0 {
		if len(a.Results) == 1 {
			return a.Results[0].Err
		}
		return &DegradedError{Failed: failed, Total: len(a.Results)}
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// Orchestrator drives directives one at a time.
type Orchestrator struct {
	Transport Transport
	Gate      Decider
	Terminal  *progress.Terminal
	Out       io.Writer
	TTY       bool
	// DryRun stops every directive after the plan has been printed.
	DryRun           bool
	ProgressInterval time.Duration
}

// Run takes one directive through the state machine.
func (o *Orchestrator) Run(ctx context.Context, d transfer.Directive) *Result {
	start := time.Now()
	res := &Result{Label: d.Label, State: Planning, Decision: gate.WithoutDelete}
	defer func() {
		res.Elapsed = time.Since(start)
		slog.Info("sync done", "label", d.Label, "state", res.State.String(), "elapsed", res.Elapsed, "error", res.Err)
	}()

	slog.Info("sync plan", "label", d.Label, "direction", string(d.Direction()), "auto_delete", d.AutoDelete)
	stop := progress.Spin(o.out(), "planning "+d.Label+"...", o.TTY)
	plan, err := o.Transport.Plan(ctx, d)
	stop()

	switch {
	case ctx.Err() != nil:
		res.Err = ErrInterrupted
		return res
	case err != nil:
		res.State = ScanFailed
		res.ExitCode = -1
		res.Err = &ScanFailure{Label: d.Label, ExitCode: -1, Err: err}
		return res
	case plan.ExitCode != transfer.ExitOK:
		res.State = ScanFailed
		res.ExitCode = plan.ExitCode
		res.Err = &ScanFailure{Label: d.Label, ExitCode: plan.ExitCode, Hint: transfer.Hint(plan.ExitCode)}
		return res
	}

	res.Plan = changes.ParseBytes(plan.Raw)
	slog.Debug("sync plan parsed", "label", d.Label, "sent", res.Plan.Sent, "received", res.Plan.Received, "deleted", res.Plan.Deleted)
	if res.Plan.Empty() {
		res.State = Empty
		return res
	}
	if o.DryRun {
		o.preview(res.Plan)
		res.State = Previewed
		return res
	}

	res.State = NeedsGateDecision
	if deletions := res.Plan.Deletions(); len(deletions) > 0 {
		decision, err := o.Gate.Decide(ctx, d.Label, deletions, d.AutoDelete)
		if err != nil {
			if ctx.Err() != nil {
				res.Err = ErrInterrupted
			} else {
				res.State = Cancelled
				res.Err = fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			return res
		}
		res.Decision = decision
	}
	if res.Decision == gate.Cancelled {
		res.State = Cancelled
		res.Err = ErrCancelled
		return res
	}

	res.State = Applying
	o.apply(ctx, d, res)
	return res
}

// RunAll runs directives in order. Failures and cancellations do not stop
// the sequence, an interrupt does.
func (o *Orchestrator) RunAll(ctx context.Context, ds []transfer.Directive) *Aggregate {
	agg := &Aggregate{}
	for _, d := range ds {
		if ctx.Err() != nil {
			agg.Results = append(agg.Results, &Result{Label: d.Label, State: Planning, Err: ErrInterrupted})
			break
		}
		res := o.Run(ctx, d)
		agg.Results = append(agg.Results, res)
		if res.Interrupted() {
			break
		}
	}
	return agg
}

func (o *Orchestrator) apply(ctx context.Context, d transfer.Directive, res *Result) {
	useDelete := res.Decision == gate.WithDelete
	slog.Info("sync apply", "label", d.Label, "delete", useDelete)

	term := o.terminal()
	term.Begin(d.Label)
	defer term.End()

	run, err := o.Transport.Apply(ctx, d, useDelete)
	if err != nil {
		res.State = Failed
		res.ExitCode = -1
		res.Err = &TransferFailure{Label: d.Label, ExitCode: -1, Err: err}
		return
	}
	defer run.Close()

	reporter := progress.NewReporter(time.Now())
	monitor := progress.NewMonitor(o.ProgressInterval)

	var (
		code    int
		waitErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		code, waitErr = run.Wait()
		return nil
	})
	g.Go(func() error {
		return monitor.Run(ctx, run, reporter, term)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Warn("progress monitor", "label", d.Label, "error", err)
	}

	if raw, err := run.Output(); err == nil {
		res.Applied = changes.ParseBytes(raw)
		term.Render(reporter.Finish(res.Applied))
	} else {
		slog.Warn("read apply output", "label", d.Label, "error", err)
	}

	switch {
	case ctx.Err() != nil:
		res.Err = ErrInterrupted
	case waitErr != nil:
		res.State = Failed
		res.ExitCode = -1
		res.Err = &TransferFailure{Label: d.Label, ExitCode: -1, Err: waitErr}
	case code != transfer.ExitOK:
		res.State = Failed
		res.ExitCode = code
		res.Err = &TransferFailure{Label: d.Label, ExitCode: code, Hint: transfer.Hint(code)}
	default:
		res.State = Summarized
	}
}

func (o *Orchestrator) preview(plan *changes.Report) {
	out := o.out()
	for _, l := range plan.Changes {
		fmt.Fprintln(out, progress.ChangeText(l))
	}
}

func (o *Orchestrator) terminal() *progress.Terminal {
	if o.Terminal == nil {
		o.Terminal = progress.NewTerminal(o.out(), o.TTY)
	}
	return o.Terminal
}

func (o *Orchestrator) out() io.Writer {
	if o.Out == nil {
		return io.Discard
	}
	return o.Out
}
