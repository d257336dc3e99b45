package sandbox

import (
	"bytes"
	"context"
	"io"

	"github.com/riftloop/agentkernel/internal/shell"
)

// interpreterSandbox is the "none" backend: the teacher's in-process
// mvdan.cc/sh interpreter with its command-blocklist policy, used when no
// OS-level isolation mechanism is available. It still enforces
// workspace-root clamping and a command denylist, just not at the kernel
// boundary a namespace or seccomp filter would give. When constructed via
// fallback (the host has no real backend and the policy opted in to
// AllowUnsandboxed) its statTracker is marked bypassed so Stats() reports
// CommandsBypassed instead of CommandsSandboxed.
type interpreterSandbox struct {
	statTracker
	sh *shell.Shell
}

func newInterpreterSandbox(policy Policy) Sandbox {
	blockers := shell.DefaultBlockFuncs()
	if len(policy.ExcludedCommands) > 0 {
		blockers = append(blockers, shell.CommandsBlocker(policy.ExcludedCommands))
	}
	maxProcesses := policy.Limits.MaxProcesses
	if !policy.AllowSubprocess && maxProcesses == 0 {
		maxProcesses = 1
	}
	return &interpreterSandbox{sh: shell.NewWithLimits(policy.WorkspaceRoot, blockers, maxProcesses)}
}

func (s *interpreterSandbox) Backend() Backend { return BackendNone }

func (s *interpreterSandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	s.recordRun()
	stdout, stderr, err := s.sh.Exec(ctx, command)
	return ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: shell.ExitCode(err)}, err
}

func (s *interpreterSandbox) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	s.recordRun()
	var stderrBuf bytes.Buffer
	tee := io.MultiWriter(stderr, &stderrBuf)
	err := s.sh.ExecStream(ctx, command, stdout, tee)
	return ExecResult{ExitCode: shell.ExitCode(err), Stderr: stderrBuf.String()}, err
}

func (s *interpreterSandbox) Dir() string { return s.sh.Dir() }

func (s *interpreterSandbox) Close() error { return nil }
