// Command agentkernel is the minimal CLI wiring entry point for the agent
// execution kernel: flag parsing, config/credential loading, provider and
// tool registration, and a line-oriented REPL loop that feeds user input
// into one AgentExecutor per session. It replaces the teacher's Bubble Tea
// TUI entry point with the thinnest driver that can exercise the kernel —
// a terminal UI is explicitly out of scope for this package.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/riftloop/agentkernel/internal/cancel"
	"github.com/riftloop/agentkernel/internal/checkpoint"
	"github.com/riftloop/agentkernel/internal/config"
	"github.com/riftloop/agentkernel/internal/contextmgr"
	"github.com/riftloop/agentkernel/internal/costguard"
	"github.com/riftloop/agentkernel/internal/dispatch"
	"github.com/riftloop/agentkernel/internal/durablestore"
	"github.com/riftloop/agentkernel/internal/executor"
	"github.com/riftloop/agentkernel/internal/kernel"
	"github.com/riftloop/agentkernel/internal/lanequeue"
	"github.com/riftloop/agentkernel/internal/llm"
	"github.com/riftloop/agentkernel/internal/llmclient"
	"github.com/riftloop/agentkernel/internal/mcp"
	"github.com/riftloop/agentkernel/internal/middleware"
	"github.com/riftloop/agentkernel/internal/provider"
	"github.com/riftloop/agentkernel/internal/sandbox"
	"github.com/riftloop/agentkernel/internal/shell"
	"github.com/riftloop/agentkernel/internal/store"
	"github.com/riftloop/agentkernel/internal/tools"

	_ "modernc.org/sqlite"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)
	providerName, providerCfg := resolveProvider(cfg, registry)

	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{
		Temperature: providerCfg.Temperature,
	})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	svc, err := setupServices(cfg, creds)
	if err != nil {
		fmt.Printf("Error setting up services: %v\n", err)
		os.Exit(1)
	}
	defer svc.close()

	if *flagList {
		listSessions(svc.sessions)
		return
	}

	sessionID, history := resolveSession(*flagSession, *flagContinue, svc.sessions)
	svc.checkpoints.SetSession(sessionID)

	if len(history) == 0 {
		history = []kernel.Message{{Role: kernel.RoleSystem, Content: llm.BuildSystemPrompt(providerCfg.Model)}}
	}

	catalog, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: failed to list tools: %v\n", err)
	}

	disp := dispatch.New(svc.proxy, svc.lanes, svc.checkpoints, sessionID, toDescriptors(catalog), []string{"Edit", "Shell"}, cfg.Agent.ToolTimeoutOrDefault())
	disp.RegisterStreaming("Shell", svc.shellHandler)

	agentCfg := cfg.Agent
	exec := executor.New(
		sessionID,
		sessionID,
		providerCfg.Model,
		llmclient.New(prov),
		disp,
		middleware.NewPipeline(
			middleware.TurnLimitMiddleware{},
			middleware.CostMiddleware{},
			middleware.NewContextWarnMiddleware(),
			middleware.NewRepeatCallMiddleware(),
		),
		withScratchpad(contextmgr.New(providerCfg.Model, agentCfg.ContextWindowTokensOrDefault(), 4096, 20), svc.scratchpad),
		nil,
		svc.cost,
		svc.durable,
		agentCfg.MaxToolRoundsOrDefault(),
		agentCfg.CostCeilingUSD,
	)

	runREPL(sessionID, history, exec, svc.sessions, svc.checkpoints)
}

// withScratchpad points mgr.ScratchpadText at pad's current task list, so
// every Prepare call re-injects it as the terminal system-reminder message
// (spec.md §4.1.d's persistent task list).
func withScratchpad(mgr *contextmgr.Manager, pad *tools.Scratchpad) *contextmgr.Manager {
	mgr.ScratchpadText = pad.Content
	return mgr
}

func runREPL(sessionID string, history []kernel.Message, exec *executor.AgentExecutor, sessions *store.Cache, checkpoints *checkpoint.Manager) {
	messages := append([]kernel.Message{}, history...)
	fmt.Printf("session %s — type a message, Ctrl-D to exit\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	turn := int64(0)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		turn++
		checkpoints.Begin(turn)
		if sessions != nil {
			sessions.SaveMessage(sessionID, store.SessionMessage{Role: "user", Content: input, CreatedAt: time.Now()})
		}

		ctx := context.Background()
		tok := cancel.New(ctx)
		before := len(messages)

		for chunk := range exec.ProcessStream(ctx, input, &history, &messages, tok) {
			printChunk(chunk)
		}
		fmt.Println()

		if sessions != nil {
			for _, m := range messages[before:] {
				sessions.SaveMessage(sessionID, kernelToSessionMessage(m))
			}
		}
	}
}

func printChunk(c kernel.StreamingChunk) {
	switch c.Kind {
	case kernel.ChunkContentDelta, kernel.ChunkSteer:
		fmt.Print(c.Content)
	case kernel.ChunkToolCallBegin:
		fmt.Printf("\n[%s] ", c.ToolCallName)
	case kernel.ChunkToolCallResult:
		if c.ToolResult != nil && c.ToolResult.IsError {
			fmt.Printf("\n[%s failed]\n", c.ToolResult.Name)
		}
	case kernel.ChunkMiddlewareNotice:
		fmt.Printf("\n[notice: %s]\n", c.Notice)
	case kernel.ChunkError:
		fmt.Printf("\n[error: %v]\n", c.Err)
	}
}

func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		apiKey := creds.GetAPIKey(name)
		registry.RegisterFactory(name, provider.NewOpenAIShapedFactory(name, providerCfg.Endpoint, apiKey, provider.ListStyleOpenAI, false, nil))
	}
	return registry
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: Provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

type services struct {
	proxy        *mcp.Proxy
	sessions     *store.Cache
	checkpoints  *checkpoint.Manager
	cost         *costguard.Guard
	durable      *durablestore.Store
	lanes        *lanequeue.Queue
	shellHandler *tools.ShellHandler
	sandbox      sandbox.Sandbox
	scratchpad   *tools.Scratchpad
}

func (s *services) close() {
	s.proxy.Close()
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.cost != nil {
		s.cost.Close()
	}
	if s.sandbox != nil {
		s.sandbox.Close()
	}
}

func setupServices(cfg *config.Config, creds *config.Credentials) (services, error) {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return services{}, fmt.Errorf("ensure data dir: %w", err)
	}

	var mcpClient mcp.UpstreamClient
	switch {
	case cfg.MCP.Upstream != "":
		mcpClient = mcp.NewClientWithTimeout(cfg.MCP.Upstream, cfg.Agent.ToolTimeoutOrDefault())
	case cfg.MCP.OfflineStub:
		mcpClient = mcp.NewStubClient()
	}
	proxy := mcp.NewProxy(mcpClient)
	if err := proxy.Initialize(context.Background()); err != nil {
		fmt.Printf("Warning: MCP init failed: %v\n", err)
	}

	workspaceRoot, err := os.Getwd()
	if err != nil {
		workspaceRoot = "."
	}
	allowOutside := cfg.Agent.AllowOutsideWorkspace

	checkpointDB, err := openSQLite(filepath.Join(dataDir, "checkpoints.db"))
	if err != nil {
		return services{}, fmt.Errorf("open checkpoint db: %w", err)
	}
	if err := checkpoint.Migrate(checkpointDB); err != nil {
		return services{}, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	checkpoints := checkpoint.New(checkpointDB)

	fileTracker := tools.NewFileReadTracker()
	proxy.RegisterTool(tools.NewReadTool(), tools.NewReadHandler(fileTracker, workspaceRoot, allowOutside).Handle)
	proxy.RegisterTool(tools.NewEditTool(), tools.NewEditHandler(fileTracker, checkpoints, workspaceRoot, allowOutside).Handle)
	proxy.RegisterTool(tools.NewGrepTool(), tools.MakeGrepHandler(workspaceRoot))

	limits := cfg.Agent.SandboxLimits()
	sb := sandbox.ForBackend(cfg.Agent.SandboxBackend, sandbox.Policy{
		WorkspaceRoot:    workspaceRoot,
		ReadOnlyPaths:    cfg.Agent.SandboxReadOnlyPaths,
		ReadWritePaths:   cfg.Agent.ReadWritePaths,
		ExcludedCommands: shell.BannedCommands,
		WorkspaceOutside: allowOutside,
		AllowSubprocess:  cfg.Agent.AllowSubprocess,
		AllowedDomains:   cfg.Agent.AllowedDomains,
		AllowUnsandboxed: cfg.Agent.AllowUnsandboxed,
		Limits: sandbox.Limits{
			MaxMemoryBytes:   limits.MaxMemoryBytes,
			MaxCPUSeconds:    limits.MaxCPUSeconds,
			MaxProcesses:     limits.MaxProcesses,
			MaxFileSizeBytes: limits.MaxFileSizeBytes,
		},
	})
	shellHandler := tools.NewShellHandler(sb, checkpoints)
	proxy.RegisterTool(tools.NewShellTool(), shellHandler.Handle)

	pad := &tools.Scratchpad{}
	proxy.RegisterTool(tools.NewTodoWriteTool(), tools.MakeTodoWriteHandler(pad))

	durable, err := durablestore.Open(filepath.Join(dataDir, "toolresults"))
	if err != nil {
		return services{}, fmt.Errorf("open durable store: %w", err)
	}
	proxy.RegisterTool(tools.NewRestoreContextTool(), tools.MakeRestoreContextHandler(durable))

	cost, err := costguard.Open(filepath.Join(dataDir, "cost.db"))
	if err != nil {
		return services{}, fmt.Errorf("open cost guard: %w", err)
	}

	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	sessions, err := store.Open(filepath.Join(dataDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: session cache open failed: %v\n", err)
		sessions = nil
	}

	lanes := lanequeue.New(cfg.Agent.LaneReadOnlyConcurrencyOrDefault())

	return services{
		proxy:        proxy,
		sessions:     sessions,
		checkpoints:  checkpoints,
		cost:         cost,
		durable:      durable,
		lanes:        lanes,
		shellHandler: shellHandler,
		sandbox:      sb,
		scratchpad:   pad,
	}, nil
}

func toDescriptors(catalog []mcp.Tool) []kernel.ToolDescriptor {
	out := make([]kernel.ToolDescriptor, len(catalog))
	for i, t := range catalog {
		out[i] = kernel.ToolDescriptor{
			Name:          t.Name,
			Description:   t.Description,
			Parameters:    t.InputSchema,
			AlwaysInclude: true,
		}
	}
	return out
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Warn().Err(err).Msg("failed to read random bytes for session id")
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "agentkernel.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := strings.ReplaceAll(s.Preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}

func resolveSession(flagSession string, flagContinue bool, db *store.Cache) (string, []kernel.Message) {
	switch {
	case flagSession != "":
		if db != nil {
			ok, err := db.SessionExists(flagSession)
			if err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		return flagSession, loadHistory(flagSession, db)

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		return id, loadHistory(id, db)

	default:
		sid := newSessionID()
		if db != nil {
			if err := db.CreateSession(sid); err != nil {
				fmt.Printf("Warning: failed to create session: %v\n", err)
			}
		}
		return sid, nil
	}
}

func loadHistory(sessionID string, db *store.Cache) []kernel.Message {
	if db == nil {
		return nil
	}
	stored, err := db.LoadMessages(sessionID)
	if err != nil {
		fmt.Printf("Warning: failed to load session history: %v\n", err)
		return nil
	}
	out := make([]kernel.Message, len(stored))
	for i, m := range stored {
		out[i] = sessionToKernelMessage(m)
	}
	return out
}

func sessionToKernelMessage(m store.SessionMessage) kernel.Message {
	msg := kernel.Message{
		Role:         kernel.Role(m.Role),
		Content:      m.Content,
		Reasoning:    m.Reasoning,
		ToolCallID:   m.ToolCallID,
		CreatedAt:    m.CreatedAt,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
	}
	if len(m.ToolCalls) > 0 {
		var calls []kernel.ToolCall
		if err := json.Unmarshal(m.ToolCalls, &calls); err == nil {
			msg.ToolCalls = calls
		}
	}
	return msg
}

func kernelToSessionMessage(m kernel.Message) store.SessionMessage {
	var toolCalls json.RawMessage
	if len(m.ToolCalls) > 0 {
		if b, err := json.Marshal(m.ToolCalls); err == nil {
			toolCalls = b
		}
	}
	return store.SessionMessage{
		Role:         string(m.Role),
		Content:      m.Content,
		Reasoning:    m.Reasoning,
		ToolCalls:    toolCalls,
		ToolCallID:   m.ToolCallID,
		CreatedAt:    m.CreatedAt,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
	}
}

func openSQLite(path string) (*sql.DB, error) {
	return sql.Open("sqlite", path)
}
