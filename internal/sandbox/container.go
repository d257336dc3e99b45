package sandbox

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
)

// containerImage is the minimal image every containerSandbox run uses. It
// needs nothing beyond a POSIX shell, so a small base keeps the per-command
// `docker run` cold-start cost low.
const containerImage = "alpine:3.20"

// containerSandbox shells out to docker(1), running each command in a
// disposable container with the workspace bind-mounted in, network
// disabled unless the policy allows it, and resource limits passed through
// as docker run flags. This is the BackendContainer entry in the kernel's
// detection priority, used when neither Linux namespace isolation nor
// bubblewrap is available but a container runtime is.
type containerSandbox struct {
	statTracker
	dockerPath string
	policy     Policy
	dir        string
}

func newContainerSandbox(dockerPath string, policy Policy) Sandbox {
	return &containerSandbox{dockerPath: dockerPath, policy: policy, dir: policy.WorkspaceRoot}
}

func (s *containerSandbox) Backend() Backend { return BackendContainer }

func (s *containerSandbox) args(command string) []string {
	args := []string{
		"run", "--rm", "-i",
		"-v", s.policy.WorkspaceRoot + ":" + s.policy.WorkspaceRoot,
		"-w", s.dir,
	}
	for _, p := range s.policy.ReadOnlyPaths {
		args = append(args, "-v", p+":"+p+":ro")
	}
	for _, p := range s.policy.ReadWritePaths {
		args = append(args, "-v", p+":"+p)
	}
	if !s.policy.AllowNetwork {
		args = append(args, "--network", "none")
	}
	if lim := s.policy.Limits; lim.MaxMemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(lim.MaxMemoryBytes, 10))
	}
	if lim := s.policy.Limits; lim.MaxProcesses > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(lim.MaxProcesses, 10))
	}
	if lim := s.policy.Limits; lim.MaxCPUSeconds > 0 {
		// docker has no direct "CPU seconds" flag; approximate with a
		// single-CPU quota so a runaway command is throttled rather than
		// unbounded, and let the caller's own ctx deadline cut it off.
		args = append(args, "--cpus", "1")
	}
	args = append(args, containerImage, "/bin/sh", "-c", command)
	return args
}

func (s *containerSandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	var stdout, stderr bytes.Buffer
	res, err := s.ExecStream(ctx, command, &stdout, &stderr)
	res.Stdout = stdout.String()
	return res, err
}

func (s *containerSandbox) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	s.recordRun()
	cmd := exec.CommandContext(ctx, s.dockerPath, s.args(command)...)
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

func (s *containerSandbox) Dir() string { return s.dir }

func (s *containerSandbox) Close() error { return nil }
