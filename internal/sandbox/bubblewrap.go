package sandbox

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
)

// bubblewrapSandbox shells out to bwrap(1) to run each command in a
// fresh mount namespace (plus PID and network namespaces unless the policy
// allows subprocesses or network), binding the workspace read-write and
// /usr, /bin and /lib read-only.
type bubblewrapSandbox struct {
	statTracker
	bwrapPath string
	policy    Policy
	dir       string
}

func newBubblewrapSandbox(bwrapPath string, policy Policy) Sandbox {
	return &bubblewrapSandbox{bwrapPath: bwrapPath, policy: policy, dir: policy.WorkspaceRoot}
}

func (s *bubblewrapSandbox) Backend() Backend { return BackendBubblewrap }

func (s *bubblewrapSandbox) args(command string) []string {
	args := []string{
		"--die-with-parent",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/lib", "/lib",
		"--proc", "/proc",
		"--dev", "/dev",
		"--bind", s.policy.WorkspaceRoot, s.policy.WorkspaceRoot,
		"--chdir", s.dir,
	}
	for _, p := range s.policy.ReadOnlyPaths {
		args = append(args, "--ro-bind", p, p)
	}
	for _, p := range s.policy.ReadWritePaths {
		args = append(args, "--bind", p, p)
	}
	if !s.policy.AllowNetwork {
		args = append(args, "--unshare-net")
	}
	if !s.policy.AllowSubprocess {
		args = append(args, "--unshare-pid")
	}
	if s.policy.Limits.MaxProcesses > 0 {
		args = append(args, "--rlimit-nproc", strconv.FormatInt(s.policy.Limits.MaxProcesses, 10))
	}
	if s.policy.Limits.MaxFileSizeBytes > 0 {
		args = append(args, "--rlimit-fsize", strconv.FormatInt(s.policy.Limits.MaxFileSizeBytes, 10))
	}
	args = append(args, "/bin/sh", "-c", command)
	return args
}

func (s *bubblewrapSandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	var stdout, stderr bytes.Buffer
	res, err := s.ExecStream(ctx, command, &stdout, &stderr)
	res.Stdout = stdout.String()
	return res, err
}

func (s *bubblewrapSandbox) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	s.recordRun()
	cmd := exec.CommandContext(ctx, s.bwrapPath, s.args(command)...)
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

func (s *bubblewrapSandbox) Dir() string { return s.dir }

func (s *bubblewrapSandbox) Close() error { return nil }
