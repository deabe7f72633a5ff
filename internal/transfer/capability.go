package transfer

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	goversion "github.com/hashicorp/go-version"
)

const (
	ProgressFine   = "--info=progress2"
	ProgressCoarse = "--progress"
)

var (
	versionRE = regexp.MustCompile(`rsync\s+version\s+v?(\d+(?:\.\d+){0,2})`)
	// --info=progress2 was added in rsync 3.1.0
	fineProgressConstraint = goversion.MustConstraints(goversion.NewConstraint(">= 3.1.0"))
)

// Capabilities of the installed rsync, probed once at startup.
type Capabilities struct {
	Version      *goversion.Version
	ProgressFlag string
}

// FineProgress reports whether overall percentage progress is available.
func (c Capabilities) FineProgress() bool {
	return c.ProgressFlag == ProgressFine
}

func (c Capabilities) String() string {
	v := "unknown"
	if c.Version != nil {
		v = c.Version.String()
	}
	return fmt.Sprintf("rsync %s (%s)", v, c.ProgressFlag)
}

// CapabilitiesFor derives the capabilities from `rsync --version` output.
func CapabilitiesFor(versionOutput string) (Capabilities, error) {
	m := versionRE.FindStringSubmatch(versionOutput)
	if m == nil {
		return Capabilities{ProgressFlag: ProgressCoarse}, fmt.Errorf("unrecognized rsync version output")
	}

	v, err := goversion.NewVersion(m[1])
	if err != nil {
		return Capabilities{ProgressFlag: ProgressCoarse}, fmt.Errorf("parse rsync version %q: %w", m[1], err)
	}

	caps := Capabilities{Version: v, ProgressFlag: ProgressCoarse}
	if fineProgressConstraint.Check(v) {
		caps.ProgressFlag = ProgressFine
	}
	return caps, nil
}

// DetectCapabilities runs `<binary> --version`.
func DetectCapabilities(ctx context.Context, binary string) (Capabilities, error) {
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return Capabilities{ProgressFlag: ProgressCoarse}, fmt.Errorf("run %s --version: %w", binary, err)
	}
	return CapabilitiesFor(string(out))
}
