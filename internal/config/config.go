// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	UI              UIConfig                  `toml:"ui"`
	Agent           AgentConfig               `toml:"agent"`
}

// AgentConfig holds the knobs AgentExecutor needs beyond provider selection:
// context-window sizing, cost ceiling, autonomy, sandboxing, and concurrency.
type AgentConfig struct {
	// ContextWindowTokens overrides the model's default context window size.
	ContextWindowTokens int `toml:"context_window_tokens"`
	// CostCeilingUSD stops a session once cumulative spend reaches this
	// amount. Zero disables the ceiling.
	CostCeilingUSD float64 `toml:"cost_ceiling_usd"`
	// Autonomous is loaded from the config file and the environment, but no
	// component reads it: mutating tool calls never pause for approval,
	// whatever its value.
	Autonomous bool `toml:"autonomous"`
	// AllowOutsideWorkspace permits file tools to read/write paths outside
	// the workspace root.
	AllowOutsideWorkspace bool `toml:"allow_outside_workspace"`
	// SandboxBackend forces a specific Sandbox backend ("landlock",
	// "bubblewrap", "seatbelt", "container", "none") instead of auto-detection.
	SandboxBackend string `toml:"sandbox_backend"`
	// MaxToolRounds caps tool-calling rounds per turn.
	MaxToolRounds int `toml:"max_tool_rounds"`
	// LaneReadOnlyConcurrency caps concurrent read-only tool calls per lane.
	LaneReadOnlyConcurrency int64 `toml:"lane_read_only_concurrency"`
	// ToolTimeoutSeconds bounds how long LaneQueue waits for one tool call
	// before failing it with a timeout ToolResult.
	ToolTimeoutSeconds int `toml:"tool_timeout_seconds"`
	// AllowSubprocess permits a sandboxed Shell command to fork further
	// child processes.
	AllowSubprocess bool `toml:"allow_subprocess"`
	// AllowedDomains restricts outbound network access (when AllowNetwork
	// is set elsewhere) to this allowlist. Empty means unrestricted.
	AllowedDomains []string `toml:"allowed_domains"`
	// AllowUnsandboxed permits falling back to the unisolated interpreter
	// when no real OS-level sandbox backend is available on the host. When
	// false, sandboxed tool calls fail outright on such a host instead of
	// silently running without isolation.
	AllowUnsandboxed bool `toml:"allow_unsandboxed"`
	// ReadWritePaths are host paths, beyond the workspace root, a
	// sandboxed command may read and write.
	ReadWritePaths []string `toml:"read_write_paths"`
	// SandboxReadOnlyPaths are host paths a sandboxed command may read but
	// not write, bind-mounted read-only where the backend supports it.
	SandboxReadOnlyPaths []string `toml:"sandbox_read_only_paths"`
	// MaxMemoryMB caps a sandboxed command's address space. Zero means no
	// limit.
	MaxMemoryMB int64 `toml:"max_memory_mb"`
	// MaxCPUSeconds caps a sandboxed command's CPU time. Zero means no
	// limit.
	MaxCPUSeconds int64 `toml:"max_cpu_time_seconds"`
	// MaxProcesses caps the number of processes a sandboxed command may
	// run concurrently. Zero means no limit.
	MaxProcesses int64 `toml:"max_processes"`
	// MaxFileSizeMB caps the size of any single file a sandboxed command
	// writes. Zero means no limit.
	MaxFileSizeMB int64 `toml:"max_file_size_mb"`
}

// SandboxLimitValues holds the scalar MB/second config fields converted into
// a sandbox.Limits-shaped value (returned as plain fields rather than
// importing internal/sandbox here, to keep config free of a dependency on
// the package it configures).
type SandboxLimitValues struct {
	MaxMemoryBytes   int64
	MaxCPUSeconds    int64
	MaxProcesses     int64
	MaxFileSizeBytes int64
}

// SandboxLimits returns the configured resource limits in byte/second
// units ready to hand to sandbox.Policy.Limits.
func (a AgentConfig) SandboxLimits() SandboxLimitValues {
	return SandboxLimitValues{
		MaxMemoryBytes:   a.MaxMemoryMB * 1024 * 1024,
		MaxCPUSeconds:    a.MaxCPUSeconds,
		MaxProcesses:     a.MaxProcesses,
		MaxFileSizeBytes: a.MaxFileSizeMB * 1024 * 1024,
	}
}

const (
	defaultContextWindowTokens     = 128_000
	defaultMaxToolRounds           = 60
	defaultLaneReadOnlyConcurrency = 4
	defaultToolTimeoutSeconds      = 120
)

// ContextWindowTokensOrDefault returns the configured override or 128k.
func (a AgentConfig) ContextWindowTokensOrDefault() int {
	if a.ContextWindowTokens <= 0 {
		return defaultContextWindowTokens
	}
	return a.ContextWindowTokens
}

// MaxToolRoundsOrDefault returns the configured cap or 60.
func (a AgentConfig) MaxToolRoundsOrDefault() int {
	if a.MaxToolRounds <= 0 {
		return defaultMaxToolRounds
	}
	return a.MaxToolRounds
}

// LaneReadOnlyConcurrencyOrDefault returns the configured cap or 4.
func (a AgentConfig) LaneReadOnlyConcurrencyOrDefault() int64 {
	if a.LaneReadOnlyConcurrency <= 0 {
		return defaultLaneReadOnlyConcurrency
	}
	return a.LaneReadOnlyConcurrency
}

// SandboxBackendOrAuto returns the configured backend override, or "" to
// mean auto-detect.
func (a AgentConfig) SandboxBackendOrAuto() string {
	return a.SandboxBackend
}

// ToolTimeoutOrDefault returns the configured per-tool-call timeout, or the
// spec's 120s default if unset.
func (a AgentConfig) ToolTimeoutOrDefault() time.Duration {
	if a.ToolTimeoutSeconds <= 0 {
		return defaultToolTimeoutSeconds * time.Second
	}
	return time.Duration(a.ToolTimeoutSeconds) * time.Second
}

// UIConfig holds user-interface settings.
type UIConfig struct {
	// SyntaxTheme names a Chroma syntax highlighting theme. This module has
	// no TUI and nothing reads the value; it is kept so existing config
	// files load unchanged. Defaults to "vulcan" if unset.
	SyntaxTheme string `toml:"syntax_theme"`
}

// SyntaxThemeOrDefault returns the configured syntax theme or "vulcan" if unset.
func (u UIConfig) SyntaxThemeOrDefault() string {
	if u.SyntaxTheme == "" {
		return "vulcan"
	}
	return u.SyntaxTheme
}

// CacheConfig holds the session store settings. TTLHours is passed to
// store.Open, which keeps it but does not expire session history by it.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
	// OfflineStub, when Upstream is unset, wires mcp.NewStubClient instead
	// of leaving the proxy with no upstream at all — useful for dev runs
	// and smoke tests of the dispatch/context-manager path.
	OfflineStub bool `toml:"offline_stub"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	errs = append(errs, validateAgentConfig(c.Agent)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateAgentConfig(a AgentConfig) []error {
	var errs []error
	if a.CostCeilingUSD < 0 {
		errs = append(errs, fmt.Errorf("agent.cost_ceiling_usd=%v must not be negative", a.CostCeilingUSD))
	}
	if a.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tool_rounds=%v must not be negative", a.MaxToolRounds))
	}
	if a.LaneReadOnlyConcurrency < 0 {
		errs = append(errs, fmt.Errorf("agent.lane_read_only_concurrency=%v must not be negative", a.LaneReadOnlyConcurrency))
	}
	if a.ToolTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("agent.tool_timeout_seconds=%v must not be negative", a.ToolTimeoutSeconds))
	}
	if a.MaxMemoryMB < 0 {
		errs = append(errs, fmt.Errorf("agent.max_memory_mb=%v must not be negative", a.MaxMemoryMB))
	}
	if a.MaxCPUSeconds < 0 {
		errs = append(errs, fmt.Errorf("agent.max_cpu_time_seconds=%v must not be negative", a.MaxCPUSeconds))
	}
	if a.MaxProcesses < 0 {
		errs = append(errs, fmt.Errorf("agent.max_processes=%v must not be negative", a.MaxProcesses))
	}
	if a.MaxFileSizeMB < 0 {
		errs = append(errs, fmt.Errorf("agent.max_file_size_mb=%v must not be negative", a.MaxFileSizeMB))
	}
	switch a.SandboxBackend {
	case "", "landlock", "bubblewrap", "seatbelt", "container", "none":
	default:
		errs = append(errs, fmt.Errorf("agent.sandbox_backend=%q is not a recognized backend", a.SandboxBackend))
	}
	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"AGENTKERNEL_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
		{"AGENTKERNEL_CONTEXT_WINDOW_TOKENS", func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Agent.ContextWindowTokens = n
			}
		}},
		{"AGENTKERNEL_COST_CEILING_USD", func(v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.Agent.CostCeilingUSD = f
			}
		}},
		{"AGENTKERNEL_AUTONOMOUS", func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.Agent.Autonomous = b
			}
		}},
		{"AGENTKERNEL_ALLOW_OUTSIDE_WORKSPACE", func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.Agent.AllowOutsideWorkspace = b
			}
		}},
		{"AGENTKERNEL_SANDBOX_BACKEND", func(v string) {
			if v != "" {
				cfg.Agent.SandboxBackend = v
			}
		}},
		{"AGENTKERNEL_MAX_TOOL_ROUNDS", func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Agent.MaxToolRounds = n
			}
		}},
		{"AGENTKERNEL_LANE_READ_ONLY_CONCURRENCY", func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Agent.LaneReadOnlyConcurrency = n
			}
		}},
		{"AGENTKERNEL_TOOL_TIMEOUT_SECONDS", func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Agent.ToolTimeoutSeconds = n
			}
		}},
		{"AGENTKERNEL_ALLOW_SUBPROCESS", func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.Agent.AllowSubprocess = b
			}
		}},
		{"AGENTKERNEL_ALLOW_UNSANDBOXED", func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.Agent.AllowUnsandboxed = b
			}
		}},
		{"AGENTKERNEL_MAX_MEMORY_MB", func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Agent.MaxMemoryMB = n
			}
		}},
		{"AGENTKERNEL_MAX_CPU_TIME_SECONDS", func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Agent.MaxCPUSeconds = n
			}
		}},
		{"AGENTKERNEL_MAX_PROCESSES", func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Agent.MaxProcesses = n
			}
		}},
		{"AGENTKERNEL_MAX_FILE_SIZE_MB", func(v string) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Agent.MaxFileSizeMB = n
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the agentkernel data directory (~/.config/agentkernel).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentkernel"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
