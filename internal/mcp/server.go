// Package mcp exposes the automation orchestrator as an MCP tool server
// over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"webpilot-mcp-server/internal/auth"
	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/orchestrator"
	"webpilot-mcp-server/internal/pattern"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server wires the MCP runtime, orchestrator, browser manager, and telemetry
// engine behind a single tool registry.
type Server struct {
	cfg       config.Config
	orch      *orchestrator.Orchestrator
	manager   *browser.Manager
	engine    *facts.Engine
	patterns  *pattern.Cache
	creds     *auth.CredentialStore
	sessions  *auth.SessionStore
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
	log       zerolog.Logger
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the server and registers all tools.
func NewServer(
	cfg config.Config,
	orch *orchestrator.Orchestrator,
	manager *browser.Manager,
	engine *facts.Engine,
	patterns *pattern.Cache,
	creds *auth.CredentialStore,
	sessions *auth.SessionStore,
	log zerolog.Logger,
) *Server {
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	s := &Server{
		cfg:       cfg,
		orch:      orch,
		manager:   manager,
		engine:    engine,
		patterns:  patterns,
		creds:     creds,
		sessions:  sessions,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
		log:       log.With().Str("component", "mcp").Logger(),
	}

	s.registerAllTools()
	return s
}

// Start launches the stdio server.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful
// shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a tool directly (used by tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	// Automation surface
	s.registerTool(&AutomateTool{orch: s.orch})
	s.registerTool(&AutomateWithApproachTool{orch: s.orch})
	s.registerTool(&AnalyticsTool{orch: s.orch})
	s.registerTool(&ClearHistoryTool{orch: s.orch})
	s.registerTool(&SetInteractiveTool{orch: s.orch})
	s.registerTool(&PatternStatsTool{patterns: s.patterns})

	// Telemetry
	s.registerTool(&QueryFactsTool{engine: s.engine})
	s.registerTool(&SubmitRuleTool{engine: s.engine})

	// Browser lifecycle
	s.registerTool(&BrowserInfoTool{manager: s.manager})
	s.registerTool(&ShutdownBrowserTool{manager: s.manager})

	// Auth stores
	s.registerTool(&SaveCredentialTool{creds: s.creds})
	s.registerTool(&GetCredentialTool{creds: s.creds})
	s.registerTool(&DeleteCredentialTool{creds: s.creds})
	s.registerTool(&ListCredentialsTool{creds: s.creds})
	s.registerTool(&SaveSessionTool{manager: s.manager, sessions: s.sessions})
	s.registerTool(&DeleteSessionTool{sessions: s.sessions})
	s.registerTool(&CleanupSessionsTool{sessions: s.sessions})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}
	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
