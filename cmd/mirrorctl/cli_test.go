package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openmined/mirrorctl/internal/lock"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAlreadyInSync(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "send")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "code: already in sync")
}

func TestSendTransfersChanges(t *testing.T) {
	p := newProject(t)
	env := []string{
		`FAKE_PLAN=>f+++++++++ src/main.py\n`,
		`FAKE_APPLY=>f+++++++++ src/main.py\n`,
	}

	out, code := p.run(t, env, "send")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "src/main.py")
	assert.Contains(t, out, "code: 1 changes (1 sent, 0 received, 0 deleted)")
}

func TestSendDryRunNeverApplies(t *testing.T) {
	p := newProject(t)
	env := []string{
		`FAKE_PLAN=>f+++++++++ a.txt\n*deleting   b.txt\n`,
		"FAKE_APPLY_EXIT=99",
	}

	out, code := p.run(t, env, "--dry-run", "send")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "code: dry run, 2 changes (1 sent, 0 received, 1 deleted) would be applied")
}

func TestSendWithDeletionsUnattendedIsCancelled(t *testing.T) {
	p := newProject(t)
	env := []string{`FAKE_PLAN=*deleting   old.txt\n`, "FAKE_APPLY_EXIT=99"}

	out, code := p.run(t, env, "send")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "code: cancelled, nothing transferred")
}

func TestSendScanFailure(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, []string{"FAKE_PLAN_EXIT=255"}, "send")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "code: scan failed")
	assert.Contains(t, out, "(exit 255)")
}

func TestPullNamedDir(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "pull", "outputs/")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "outputs: already in sync")
}

func TestPullUnknownDir(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "pull", "nope")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, `unknown sync dir "nope"`)
}

func TestSendPullRunsEveryDirective(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "send-pull")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "code: already in sync")
	assert.Contains(t, out, "outputs: already in sync")
	assert.Contains(t, out, "all 2 operations completed")
}

func TestPushAllNeedsConfirmation(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "push-all")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "cancelled")
	assert.NotContains(t, out, "full push:")

	out, code = p.run(t, nil, "push-all", "--yes")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "full push: already in sync")
}

func TestPullAllWithYes(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "pull-all", "-y")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "full pull: already in sync")
}

func TestLockContention(t *testing.T) {
	p := newProject(t)

	lk := lock.New(lock.PathFor(p.lockDir, p.root))
	require.NoError(t, lk.Acquire())
	defer lk.Release()

	out, code := p.run(t, nil, "send")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "another instance is running with pid "+strconv.Itoa(os.Getpid()))

	// status does not take the lock and reports the holder
	out, code = p.run(t, nil, "status", "--yaml", "--no-remote")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "held: true")
	assert.Contains(t, out, "pid: "+strconv.Itoa(os.Getpid()))
}

func TestLockReleasedAfterRun(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "send")
	require.Equal(t, 0, code, out)

	_, held := lock.Holder(lock.PathFor(p.lockDir, p.root))
	assert.False(t, held)
}

func TestInterruptDuringApply(t *testing.T) {
	p := newProject(t)
	pidFile := filepath.Join(t.TempDir(), "rsync.pid")
	env := []string{`FAKE_PLAN=>f+++++++++ big.bin\n`, "FAKE_APPLY_PIDFILE=" + pidFile}

	cmd, buf := p.start(t, env, "send")

	// wait until the transfer child is running
	var childPID int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		childPID, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	err := cmd.Wait()
	out := stripANSI(buf.String())

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, out)
	assert.Equal(t, 130, exitErr.ExitCode(), out)
	assert.Contains(t, out, "code: interrupted")

	alive, err := process.PidExists(int32(childPID))
	require.NoError(t, err)
	assert.False(t, alive, "transfer child outlived the interrupt")

	assert.NoDirExists(t, lock.PathFor(p.lockDir, p.root))
	_, held := lock.Holder(lock.PathFor(p.lockDir, p.root))
	assert.False(t, held)
}

func TestStatusYAML(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "status", "--yaml", "--no-remote")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "local_root: "+p.root)
	assert.Contains(t, out, "remote: me@gpu-box:/srv/proj")
	assert.Contains(t, out, "rsync: rsync 3.2.7 (--info=progress2)")
	assert.Contains(t, out, "held: false")
	assert.Contains(t, out, "name: outputs")
	assert.Contains(t, out, "local_bytes: 2048")
}

func TestStatusText(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, nil, "status", "--no-remote")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "mirrorctl status")
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "2.0 kB")
}

func TestTestCommand(t *testing.T) {
	p := newProject(t)

	// the fake ssh answers "ok" to everything, so the remote rsync check
	// reports "ok" and the root check passes
	out, code := p.run(t, nil, "test")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "✓ local rsync")
	assert.Contains(t, out, "✓ ssh login me@gpu-box")
	assert.Contains(t, out, "✓ remote root /srv/proj")
}

func TestTestCommandReportsFailures(t *testing.T) {
	p := newProject(t)
	ssh := filepath.Join(filepath.Dir(p.configPath), "bin", "ssh")
	require.NoError(t, os.WriteFile(ssh, []byte("#!/bin/sh\necho 'Permission denied' >&2\nexit 255\n"), 0o755))

	out, code := p.run(t, nil, "test")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "✓ local rsync")
	assert.Contains(t, out, "✗ ssh login")
	assert.Contains(t, out, "3 of 4 checks failed")
}

func TestMissingRemoteHost(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.WriteFile(p.configPath, []byte("local_root: "+p.root+"\n"), 0o644))

	out, code := p.run(t, nil, "send")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "config remote_host: is required")
}

func TestMissingRsync(t *testing.T) {
	p := newProject(t)

	out, code := p.run(t, []string{"MIRRORCTL_RSYNC_PATH=/nonexistent/rsync"}, "send")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "config rsync_path")
}

func TestVersionSubprocess(t *testing.T) {
	out, code := runCLI(t, nil, "version")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "mirrorctl ")
}
