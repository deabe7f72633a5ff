// Package remote describes how mirrorctl reaches the remote host over ssh.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 10 * time.Second
)

// Shell holds the ssh parameters shared by rsync and direct remote commands.
// The password, when set, is handed to sshpass through the environment.
type Shell struct {
	Host           string
	User           string
	Port           int
	Password       string
	ConnectTimeout time.Duration
	SSHPath        string
	SSHPassPath    string
}

// Target is the ssh destination, user@host or host.
func (s *Shell) Target() string {
	if s.User == "" {
		return s.Host
	}
	return s.User + "@" + s.Host
}

// RsyncHost is the host part of remote rsync operands.
func (s *Shell) RsyncHost() string {
	return s.Target()
}

// RsyncShell is the value of rsync's -e flag.
func (s *Shell) RsyncShell() string {
	return strings.Join(s.command(), " ")
}

// Env returns the extra environment for children that go through this shell.
func (s *Shell) Env() []string {
	if s.Password == "" {
		return nil
	}
	return []string{"SSHPASS=" + s.Password}
}

// Run executes command on the remote host and returns its combined output.
func (s *Shell) Run(ctx context.Context, command string) ([]byte, error) {
	argv := append(s.command(), s.Target(), command)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), s.Env()...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Debug("remote run", "host", s.Host, "command", command)
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("remote %q: %w: %s", command, err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// Check verifies that the host accepts a non-interactive login.
func (s *Shell) Check(ctx context.Context) error {
	out, err := s.Run(ctx, "echo ok")
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) != "ok" {
		return fmt.Errorf("unexpected reply from %s: %q", s.Host, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Shell) command() []string {
	var argv []string
	if s.Password != "" {
		argv = append(argv, orDefault(s.SSHPassPath, "sshpass"), "-e")
	}

	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	argv = append(argv,
		orDefault(s.SSHPath, "ssh"),
		"-p", strconv.Itoa(port),
		"-o", "ConnectTimeout="+strconv.Itoa(int(timeout.Seconds())),
	)
	if s.Password == "" {
		argv = append(argv, "-o", "BatchMode=yes")
	}
	return argv
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Quote single-quotes s for the remote POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
