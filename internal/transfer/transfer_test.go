package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/mirrorctl/internal/exclude"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShell struct{}

func (fakeShell) RsyncShell() string { return "ssh -p 2222" }
func (fakeShell) Env() []string      { return []string{"SSHPASS=hunter2"} }

// writeFakeRsync writes an executable shell script standing in for rsync.
// Every invocation records its arguments, one per line, in $ARGS_FILE.
func writeFakeRsync(t *testing.T, body string) (binary string, argsFile string) {
	t.Helper()

	dir := t.TempDir()
	binary = filepath.Join(dir, "rsync")
	argsFile = filepath.Join(dir, "args")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$ARGS_FILE\"\necho \"SSHPASS=$SSHPASS\" >> \"$ARGS_FILE\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	t.Setenv("ARGS_FILE", argsFile)
	return binary, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func newTestInvoker(binary string) *Invoker {
	inv := NewInvoker(fakeShell{}, NewScratch(""))
	inv.Binary = binary
	inv.IdleTimeout = 30 * time.Second
	inv.Capabilities = Capabilities{ProgressFlag: ProgressFine}
	return inv
}

func pushDirective(autoDelete bool) Directive {
	return Directive{
		Label:       "code",
		Source:      Local("/home/me/project"),
		Destination: Remote("gpu-box", "/srv/project/"),
		Exclusions:  exclude.NewSet(".git", "*.pyc"),
		AutoDelete:  autoDelete,
	}
}

func TestEndpoint(t *testing.T) {
	l := Local("/a/b/")
	r := Remote("host", "/x/y")

	assert.False(t, l.IsRemote())
	assert.Equal(t, "/a/b/", l.Operand())
	assert.True(t, r.IsRemote())
	assert.Equal(t, "host:/x/y/", r.Operand())
	assert.Equal(t, "host:/x/y", r.String())

	assert.Equal(t, Push, Directive{Source: l, Destination: r}.Direction())
	assert.Equal(t, Pull, Directive{Source: r, Destination: l}.Direction())
}

func TestPlanArgsAlwaysSimulateWithDelete(t *testing.T) {
	inv := newTestInvoker("rsync")

	for _, auto := range []bool{false, true} {
		args := inv.PlanArgs(pushDirective(auto))
		assert.Contains(t, args, "--dry-run")
		assert.Contains(t, args, "--delete")
		assert.Contains(t, args, "--timeout=30")
		assert.Contains(t, args, "--itemize-changes")
		assert.Equal(t, []string{"/home/me/project/", "gpu-box:/srv/project/"}, args[len(args)-2:])
	}
}

func TestApplyArgs(t *testing.T) {
	inv := newTestInvoker("rsync")
	d := pushDirective(false)

	without := inv.ApplyArgs(d, false)
	assert.NotContains(t, without, "--dry-run")
	assert.NotContains(t, without, "--delete")
	assert.Contains(t, without, ProgressFine)
	assert.Contains(t, without, "--exclude=.git")
	assert.Contains(t, without, "--exclude=*.pyc")

	with := inv.ApplyArgs(d, true)
	assert.NotContains(t, with, "--dry-run")
	assert.Contains(t, with, "--delete")
}

func TestLocalOnlyDirectiveHasNoRemoteShell(t *testing.T) {
	inv := newTestInvoker("rsync")
	args := inv.PlanArgs(Directive{Source: Local("/a"), Destination: Local("/b")})
	assert.NotContains(t, args, "-e")
}

func TestPlan(t *testing.T) {
	binary, argsFile := writeFakeRsync(t, `printf '>f+++++++++ a.txt\n*deleting c.txt\n'; exit 23`)
	inv := newTestInvoker(binary)

	out, err := inv.Plan(t.Context(), pushDirective(false))
	require.NoError(t, err)

	assert.Equal(t, ExitPartial, out.ExitCode)
	assert.Equal(t, ">f+++++++++ a.txt\n*deleting c.txt\n", string(out.Raw))
	assert.Equal(t, 0, inv.Scratch.Len(), "plan output file must be removed")
	assert.False(t, inv.Running())

	args := readArgs(t, argsFile)
	assert.Contains(t, args, "--dry-run")
	assert.Contains(t, args, "ssh -p 2222")
	assert.Contains(t, args, "SSHPASS=hunter2")
	for _, a := range args[:len(args)-1] {
		assert.NotContains(t, a, "hunter2", "password must not appear on the command line")
	}
}

func TestPlanMissingBinary(t *testing.T) {
	inv := newTestInvoker(filepath.Join(t.TempDir(), "no-such-rsync"))

	_, err := inv.Plan(t.Context(), pushDirective(false))
	require.Error(t, err)
	assert.Equal(t, 0, inv.Scratch.Len())
}

func TestApply(t *testing.T) {
	binary, argsFile := writeFakeRsync(t, `printf '>f+++++++++ a.txt\r   10  100%%  1.00MB/s\n'; exit 30`)
	inv := newTestInvoker(binary)

	h, err := inv.Apply(t.Context(), pushDirective(false), true)
	require.NoError(t, err)

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, ExitIdleTimeout, code)

	out, err := h.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), ">f+++++++++ a.txt")

	buf := make([]byte, 4)
	n, _ := h.ReadAt(buf, 0)
	assert.Equal(t, ">f++", string(buf[:n]))

	assert.Equal(t, 1, inv.Scratch.Len())
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, inv.Scratch.Len())

	assert.Contains(t, readArgs(t, argsFile), "--delete")
}

func TestApplyCancel(t *testing.T) {
	binary, _ := writeFakeRsync(t, `sleep 30`)
	inv := newTestInvoker(binary)

	ctx, cancel := context.WithCancel(t.Context())
	h, err := inv.Apply(ctx, pushDirective(false), false)
	require.NoError(t, err)
	defer h.Close()

	assert.True(t, inv.Running())
	_, err = inv.Apply(ctx, pushDirective(false), false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	start := time.Now()
	cancel()
	_, err = h.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, inv.Running())
}

func TestTerminate(t *testing.T) {
	binary, _ := writeFakeRsync(t, `sleep 30`)
	inv := newTestInvoker(binary)

	h, err := inv.Apply(t.Context(), pushDirective(false), false)
	require.NoError(t, err)
	defer h.Close()

	inv.Terminate()
	code, err := h.Wait()
	require.NoError(t, err)
	assert.NotEqual(t, ExitOK, code)

	// no child: no-op
	inv.Terminate()
}

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		out      string
		flag     string
		version  string
		hasError bool
	}{
		{"rsync  version 3.2.7  protocol version 31\nCopyright (C) 1996-2022", ProgressFine, "3.2.7", false},
		{"rsync  version 3.1.0  protocol version 31", ProgressFine, "3.1.0", false},
		{"rsync  version 2.6.9  protocol version 29", ProgressCoarse, "2.6.9", false},
		{"openrsync: protocol version 29\nrsync version 2.6.9 compatible", ProgressCoarse, "2.6.9", false},
		{"something else", ProgressCoarse, "", true},
	}

	for _, tt := range tests {
		caps, err := CapabilitiesFor(tt.out)
		if tt.hasError {
			assert.Error(t, err)
		} else {
			require.NoError(t, err)
			assert.Equal(t, tt.version, caps.Version.String())
		}
		assert.Equal(t, tt.flag, caps.ProgressFlag)
	}
}

func TestDetectCapabilities(t *testing.T) {
	binary, _ := writeFakeRsync(t, `echo "rsync  version 3.2.3  protocol version 31"`)

	caps, err := DetectCapabilities(t.Context(), binary)
	require.NoError(t, err)
	assert.True(t, caps.FineProgress())
}

func TestHint(t *testing.T) {
	assert.Empty(t, Hint(ExitOK))
	assert.Contains(t, Hint(ExitIdleTimeout), "idle timeout")
	assert.Contains(t, Hint(ExitAuth), "authentication")
	assert.Contains(t, Hint(ExitConnLost), "connection lost")
	assert.Contains(t, Hint(99), "exit code 99")
	assert.True(t, Classified(ExitVanished))
	assert.False(t, Classified(99))
}

func TestScratch(t *testing.T) {
	s := NewScratch(t.TempDir())

	a, err := s.Create("a-*")
	require.NoError(t, err)
	b, err := s.Create("b-*")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	s.Release(a)
	s.Release(a)
	s.Release(nil)
	assert.NoFileExists(t, a.Name())
	assert.FileExists(t, b.Name())

	s.ReleaseAll()
	assert.NoFileExists(t, b.Name())
	assert.Equal(t, 0, s.Len())
}
