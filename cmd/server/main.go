package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/mgauthier/tradescope/internal/dataset"
	"github.com/mgauthier/tradescope/internal/registry"
	"github.com/mgauthier/tradescope/internal/runtime"
	"github.com/mgauthier/tradescope/internal/security"
	"github.com/mgauthier/tradescope/internal/telemetry"
	"github.com/mgauthier/tradescope/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	logger := zlog.With().Str("service", "tradescope-server").Logger()
	ctx := logger.WithContext(context.Background())

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set TRADESCOPE_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set TRADESCOPE_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.NewLimits(0, 0)
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	datasetMgr := dataset.NewManager(0, 0, runtimeController, secMgr, nil)
	datasetMgr.Start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := datasetMgr.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("dataset manager shutdown incomplete")
		}
	}()

	toolRegistry := registry.New()
	hooks := telemetry.NewHooks(logger)
	exportFilter := registry.NewExportToolFilterFromEnv()

	srv := server.NewMCPServer(
		"Trade Concentration Analysis Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(buildHooks(logger)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return exportFilter.FilterTools(ctx, tools) }),
	)

	snapshot := runtimeController.LimitsSnapshot()
	registry.RegisterDatasetTools(srv, toolRegistry, snapshot, datasetMgr, hooks)
	registry.RegisterAnalysisTools(srv, toolRegistry, snapshot, datasetMgr, secMgr)
	registry.RegisterExportTools(srv, toolRegistry, snapshot, datasetMgr, secMgr)

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_datasets", limits.MaxOpenDatasets).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if useStdio {
		hooks.OnServerStart()
		if err := server.ServeStdio(srv); err != nil {
			// Use stderr for transport errors so clients don't misinterpret output
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		hooks.OnServerStop()
		return
	}

	// If no transport flags provided, print usage and exit non-zero
	fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
	os.Exit(2)
}

// buildHooks constructs mcp-go server hooks for basic telemetry.
func buildHooks(logger zerolog.Logger) *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		logger.Info().Str("session_id", session.SessionID()).Msg("session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		logger.Info().Str("session_id", session.SessionID()).Msg("session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		// Keep it light: tool count only
		logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		logger.Info().Str("tool", req.Params.Name).Msg("tool call served")
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
