package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"webpilot-mcp-server/internal/assist"
	"webpilot-mcp-server/internal/auth"
	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/dom"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/llm"
	mcpserver "webpilot-mcp-server/internal/mcp"
	"webpilot-mcp-server/internal/orchestrator"
	"webpilot-mcp-server/internal/pattern"
	"webpilot-mcp-server/internal/recorder"
	"webpilot-mcp-server/internal/recovery"
	"webpilot-mcp-server/internal/retry"
	"webpilot-mcp-server/internal/sandbox"
	"webpilot-mcp-server/internal/vision"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit WebPilot config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .webpilot workspace discovery")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as the workspace root")
	initWorkspace := flag.Bool("init", false, "Create a .webpilot workspace in the current directory and exit")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err == nil {
			err = config.InitWorkspace(cwd)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize workspace: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("initialized %s workspace in %s\n", config.WorkspaceDirName, cwd)
		return
	}

	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// In stdio mode stdout carries the MCP protocol and stderr is visible to
	// the client, so logs go to a file.
	var logOut io.Writer = os.Stderr
	if cfg.MCP.SSEPort == 0 {
		if cfg.Server.LogFile != "" {
			f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				defer f.Close()
				logOut = f
			} else {
				logOut = io.Discard
			}
		} else {
			logOut = io.Discard
		}
	}
	log := zerolog.New(logOut).With().Timestamp().Logger()
	if wsDir != "" {
		log.Info().Str("workspace", wsDir).Msg("using workspace config")
	}

	manager := browser.NewManager(cfg.Browser, log)
	analyzer := dom.NewAnalyzer(log)
	domExec := dom.NewExecutor(manager, analyzer, log)

	var llmClient llm.Client
	if llm.Configured() {
		llmClient, err = llm.NewClientFromEnv(log)
		if err != nil {
			log.Warn().Err(err).Msg("LLM client unavailable, AI-Assist degrades to templated sequences")
		}
	}

	patterns := pattern.NewCache(cfg.Orchestrator.PatternsPath, log)
	synth := assist.NewSynthesizer(patterns, llmClient, assist.NewRodRunner(domExec), 0, log)
	// No sandbox backend ships with the server; script requests degrade to
	// synthesized sequences.
	synth.SetSandbox(sandbox.Unavailable{})
	synth.SetMinConfidence(cfg.Orchestrator.AIConfidenceThreshold)

	var agent vision.Agent
	if len(cfg.Vision.Command) > 0 {
		agent = vision.NewCommandAgent(cfg.Vision.Command)
	}
	visual := vision.NewExecutor(agent, cfg.Vision.GetMaxSteps(), cfg.Vision.GetTimeout(), log)
	visual.SetMinConfidence(cfg.Orchestrator.VisionConfidenceThreshold)

	retries := retry.NewEngine(cfg.Retry, log)
	recoverMgr := recovery.NewManager(llmClient, log)

	factsEngine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize fact engine")
	}

	trace, err := recorder.NewRecorder(cfg.Server.TraceDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize flight recorder")
	}
	if err := trace.Start("server"); err != nil {
		log.Warn().Err(err).Msg("flight recorder disabled")
	}
	defer trace.Close()

	audit := auth.NewAuditLog(cfg.Auth.AuditLogPath)
	creds := auth.NewCredentialStore(cfg.Auth.CredentialsPath, audit, log)
	sessions := auth.NewSessionStore(cfg.Auth.SessionsPath, cfg.Auth.GetSessionTTL(), audit, log)
	domExec.SetSessionStore(sessions)

	orch := orchestrator.New(cfg.Orchestrator, domExec, synth, visual, retries, recoverMgr, patterns, factsEngine, trace, log)

	server := mcpserver.NewServer(cfg, orch, manager, factsEngine, patterns, creds, sessions, log)

	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn().Err(err).Msg("browser shutdown failed")
		}
	}()

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Info().Int("port", cfg.MCP.SSEPort).Msg("starting WebPilot MCP SSE server")
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Info().Msg("starting WebPilot MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatal().Err(startErr).Msg("server exited with error")
	}
}
