package mirror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCancelled   = errors.New("cancelled")
	ErrInterrupted = errors.New("interrupted")
)

// ScanFailure is a plan (dry-run) that rsync could not complete.
type ScanFailure struct {
	Label    string
	ExitCode int
	Hint     string
	Err      error // set when rsync could not be started at all
}

func (e *ScanFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: scan failed: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("%s: scan failed: %s", e.Label, e.Hint)
}

func (e *ScanFailure) Unwrap() error { return e.Err }

// TransferFailure is an apply run that ended with a non-zero exit.
type TransferFailure struct {
	Label    string
	ExitCode int
	Hint     string
	Err      error
}

func (e *TransferFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transfer failed: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("%s: transfer failed: %s", e.Label, e.Hint)
}

func (e *TransferFailure) Unwrap() error { return e.Err }

// DegradedError is returned by a composite operation in which at least one
// directive failed.
type DegradedError struct {
	Failed []string
	Total  int
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%d of %d operations failed: %s", len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}
