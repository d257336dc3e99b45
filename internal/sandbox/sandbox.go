// Package sandbox provides OS-level isolation for tool-executed
// subprocesses (primarily the Shell tool). It auto-detects the strongest
// backend available on the host — Linux namespace isolation,
// bubblewrap, a macOS Seatbelt profile, a container runtime — and falls
// back to the teacher's mvdan.cc/sh in-process interpreter with its
// command-blocklist policy when none of those are present.
//
// None of the example repos in the training pack implement real OS-level
// sandboxing (seccomp/bubblewrap/Seatbelt); this package is hand-built on
// os/exec, syscall.SysProcAttr and build-tagged golang.org/x/sys/unix
// rather than grounded on a pack example, and is documented as such in
// DESIGN.md.
package sandbox

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"runtime"
	"sync/atomic"
)

// ErrUnavailable is returned when no backend at all could be constructed
// for the current host (should not happen in practice: the interpreter
// backend always works).
var ErrUnavailable = errors.New("sandbox: no backend available")

// ErrSandboxUnavailable is returned by Exec/ExecStream when the policy
// requires real OS-level isolation (AllowUnsandboxed is false), no such
// backend could be constructed on this host, and ForBackend/Detect refused
// to fall back to the unisolated interpreter. Corresponds to spec.md §7's
// kind-9 sandbox-unavailable error.
var ErrSandboxUnavailable = errors.New("sandbox: no isolation backend available and allow_unsandboxed is false")

// Backend identifies which isolation mechanism a Sandbox is using.
type Backend string

const (
	BackendLinuxNamespace Backend = "linux_namespace"
	BackendBubblewrap     Backend = "bubblewrap"
	BackendSeatbelt       Backend = "macos_seatbelt"
	BackendContainer      Backend = "container"
	BackendNone           Backend = "none"
	backendUnavailable    Backend = "unavailable"
)

// Limits bounds resource usage for a sandboxed process. A zero value means
// "no limit imposed" for that dimension.
type Limits struct {
	MaxMemoryBytes   int64
	MaxCPUSeconds    int64
	MaxProcesses     int64
	MaxFileSizeBytes int64
}

// Policy controls what a sandboxed command may do, independent of which
// backend enforces it.
type Policy struct {
	WorkspaceRoot    string
	ReadOnlyPaths    []string
	ReadWritePaths   []string
	ExcludedCommands []string
	AllowNetwork     bool
	WorkspaceOutside bool // allow paths outside WorkspaceRoot (escape hatch, off by default)
	// AllowSubprocess permits the sandboxed command to fork further child
	// processes instead of being limited to a single process tree of one.
	AllowSubprocess bool
	// Limits bounds memory, CPU time, process count, and file size for the
	// sandboxed command, where the backend can enforce it.
	Limits Limits
	// AllowedDomains, when non-empty, is the allowlist a network-aware
	// backend restricts outbound connections to. Ignored when AllowNetwork
	// is false.
	AllowedDomains []string
	// AllowUnsandboxed permits falling back to the unisolated interpreter
	// backend when no real isolation mechanism is available on the host. If
	// false, Detect/ForBackend return an always-failing sandbox instead of
	// silently running commands unsandboxed.
	AllowUnsandboxed bool
}

// ExecResult is the outcome of one sandboxed command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Stats counts how commands were handled by a Sandbox over its lifetime.
type Stats struct {
	CommandsRun       int64
	CommandsSandboxed int64
	CommandsBypassed  int64
}

// Sandbox runs one command under a Policy and reports which Backend
// enforced it.
type Sandbox interface {
	Backend() Backend
	Exec(ctx context.Context, command string) (ExecResult, error)
	ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error)
	Dir() string
	Stats() Stats
	Close() error
}

// statTracker is embedded in every backend to satisfy Sandbox.Stats without
// repeating the bookkeeping in each implementation. bypassed is true for
// backends that run commands with no real kernel-level isolation (the
// interpreter fallback when AllowUnsandboxed let it through); every other
// backend counts its runs as sandboxed.
type statTracker struct {
	bypassed bool
	run      atomic.Int64
}

func (t *statTracker) recordRun() {
	t.run.Add(1)
}

func (t *statTracker) Stats() Stats {
	n := t.run.Load()
	s := Stats{CommandsRun: n}
	if t.bypassed {
		s.CommandsBypassed = n
	} else {
		s.CommandsSandboxed = n
	}
	return s
}

// unavailableSandbox is returned instead of the interpreter fallback when a
// policy demands real isolation (AllowUnsandboxed false) but none could be
// constructed. Every Exec/ExecStream call fails with ErrSandboxUnavailable
// without running anything, so a misconfigured host fails loudly instead of
// silently dropping isolation.
type unavailableSandbox struct {
	statTracker
	dir string
}

func (s *unavailableSandbox) Backend() Backend { return backendUnavailable }

func (s *unavailableSandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	return ExecResult{}, ErrSandboxUnavailable
}

func (s *unavailableSandbox) ExecStream(ctx context.Context, command string, stdout, stderr io.Writer) (ExecResult, error) {
	return ExecResult{}, ErrSandboxUnavailable
}

func (s *unavailableSandbox) Dir() string { return s.dir }

func (s *unavailableSandbox) Close() error { return nil }

// fallback returns the interpreter sandbox if policy allows running
// unsandboxed, or an unavailableSandbox that refuses every command if not.
func fallback(policy Policy) Sandbox {
	if policy.AllowUnsandboxed {
		sb := newInterpreterSandbox(policy).(*interpreterSandbox)
		sb.bypassed = true
		return sb
	}
	return &unavailableSandbox{dir: policy.WorkspaceRoot}
}

// Detect picks the strongest backend available on this host in priority
// order: the platform's native backend (Linux namespace isolation, or the
// macOS Seatbelt profile), bubblewrap, a container runtime, and finally the in-process
// interpreter (or an always-failing sandbox, per policy.AllowUnsandboxed)
// as the last resort.
func Detect(policy Policy) Sandbox {
	if sb := detectNative(policy); sb != nil {
		return sb
	}
	if path, err := exec.LookPath("bwrap"); err == nil {
		return newBubblewrapSandbox(path, policy)
	}
	if path, err := exec.LookPath("docker"); err == nil {
		return newContainerSandbox(path, policy)
	}
	return fallback(policy)
}

// ForBackend forces a specific backend by name, matching the
// agent.sandbox_backend config values ("landlock", "bubblewrap",
// "seatbelt", "container", "none"). An empty or unrecognized name falls
// back to Detect.
func ForBackend(name string, policy Policy) Sandbox {
	switch name {
	case "landlock":
		if sb := newLinuxSandbox(policy); sb != nil {
			return sb
		}
		return fallback(policy)
	case "bubblewrap":
		if path, err := exec.LookPath("bwrap"); err == nil {
			return newBubblewrapSandbox(path, policy)
		}
		return fallback(policy)
	case "seatbelt":
		if sb := newSeatbeltSandbox(policy); sb != nil {
			return sb
		}
		return fallback(policy)
	case "container":
		if path, err := exec.LookPath("docker"); err == nil {
			return newContainerSandbox(path, policy)
		}
		return fallback(policy)
	case "none":
		return newInterpreterSandbox(policy)
	}
	return Detect(policy)
}

// detectNative returns the platform-specific backend (Linux namespaces or
// macOS Seatbelt), or nil if the current GOOS has none or construction
// failed.
func detectNative(policy Policy) Sandbox {
	switch runtime.GOOS {
	case "linux":
		return newLinuxSandbox(policy)
	case "darwin":
		return newSeatbeltSandbox(policy)
	default:
		return nil
	}
}
