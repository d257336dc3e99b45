//go:build darwin

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// seatbeltSandbox shells out to sandbox-exec(1) with a generated Seatbelt
// profile restricting file writes to the workspace root (plus the
// read-only paths the policy names) and denying network access unless the
// policy allows it.
type seatbeltSandbox struct {
	statTracker
	policy Policy
	dir    string
}

func newSeatbeltSandbox(policy Policy) Sandbox {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil
	}
	return &seatbeltSandbox{policy: policy, dir: policy.WorkspaceRoot}
}

func (s *seatbeltSandbox) Backend() Backend { return BackendSeatbelt }

func (s *seatbeltSandbox) profile() string {
	var b strings.Builder
	b.WriteString("(version 1)\n(allow default)\n")
	b.WriteString(fmt.Sprintf("(deny file-write* (subpath \"/\"))\n(allow file-write* (subpath %q))\n", s.policy.WorkspaceRoot))
	for _, p := range s.policy.ReadOnlyPaths {
		b.WriteString(fmt.Sprintf("(deny file-write* (subpath %q))\n", p))
	}
	if !s.policy.AllowNetwork {
		b.WriteString("(deny network*)\n")
	}
	return b.String()
}

func (s *seatbeltSandbox) command(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "sandbox-exec", "-p", s.profile(), "/bin/sh", "-c", command)
	cmd.Dir = s.dir
	return cmd
}

func (s *seatbeltSandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	s.recordRun()
	var stdout, stderr bytes.Buffer
	res, err := s.run(ctx, command, &stdout, &stderr)
	res.Stdout = stdout.String()
	return res, err
}

func (s *seatbeltSandbox) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	s.recordRun()
	return s.run(ctx, command, stdout, stderr)
}

func (s *seatbeltSandbox) run(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	cmd := s.command(ctx, command)
	cmd.Stdout = stdout
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	err := cmd.Run()
	res := ExecResult{Stderr: stderrBuf.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		res.TimedOut = true
	}
	return res, err
}

func (s *seatbeltSandbox) Dir() string { return s.dir }

func (s *seatbeltSandbox) Close() error { return nil }
