package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/mirrorctl/internal/changes"
)

// FormatResult renders a one-line plain text summary of a directive.
func FormatResult(r *Result) string {
	var b strings.Builder
	b.WriteString(r.Label)
	b.WriteString(": ")

	switch {
	case r.Interrupted():
		b.WriteString("interrupted")
	case r.State == Empty:
		b.WriteString("already in sync")
	case r.State == Previewed:
		fmt.Fprintf(&b, "dry run, %s would be applied", countChanges(r.Plan))
	case r.State == Cancelled:
		b.WriteString("cancelled, nothing transferred")
	case r.State == ScanFailed, r.State == Failed:
		b.WriteString(failureText(r))
	case r.State == Summarized:
		fmt.Fprintf(&b, "%s in %s", countChanges(r.Applied), roundElapsed(r.Elapsed))
		if r.Plan != nil && r.Plan.Deleted > 0 && r.Applied != nil && r.Applied.Deleted == 0 {
			fmt.Fprintf(&b, ", %s deletion(s) skipped", humanize.Comma(int64(r.Plan.Deleted)))
		}
	default:
		b.WriteString(r.State.String())
	}
	return b.String()
}

// FormatAggregate renders every result followed by an overall line.
func FormatAggregate(a *Aggregate) string {
	var b strings.Builder
	for _, r := range a.Results {
		b.WriteString(FormatResult(r))
		b.WriteByte('\n')
	}
	if overall := FormatOverall(a); overall != "" {
		b.WriteString(overall)
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatOverall is the closing line of a composite operation. It is empty
// for a single directive.
func FormatOverall(a *Aggregate) string {
	if len(a.Results) < 2 {
		return ""
	}

	err := a.Err()
	var degraded *DegradedError
	switch {
	case err == nil:
		return fmt.Sprintf("all %d operations completed", len(a.Results))
	case errors.As(err, &degraded):
		return "degraded: " + degraded.Error()
	case errors.Is(err, ErrInterrupted):
		return "stopped by interrupt"
	default:
		return "finished with cancellations"
	}
}

func countChanges(r *changes.Report) string {
	if r == nil {
		return "0 changes"
	}
	return fmt.Sprintf("%s changes (%s sent, %s received, %s deleted)",
		humanize.Comma(int64(r.Total())),
		humanize.Comma(int64(r.Sent)),
		humanize.Comma(int64(r.Received)),
		humanize.Comma(int64(r.Deleted)))
}

func failureText(r *Result) string {
	phase := "transfer failed"
	if r.State == ScanFailed {
		phase = "scan failed"
	}

	var scan *ScanFailure
	var xfer *TransferFailure
	switch {
	case errors.As(r.Err, &scan) && scan.Err != nil:
		return fmt.Sprintf("%s: %v", phase, scan.Err)
	case errors.As(r.Err, &scan):
		return fmt.Sprintf("%s: %s (exit %d)", phase, scan.Hint, scan.ExitCode)
	case errors.As(r.Err, &xfer) && xfer.Err != nil:
		return fmt.Sprintf("%s: %v", phase, xfer.Err)
	case errors.As(r.Err, &xfer):
		return fmt.Sprintf("%s: %s (exit %d)", phase, xfer.Hint, xfer.ExitCode)
	default:
		return phase
	}
}

func roundElapsed(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Second)
}
