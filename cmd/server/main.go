package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/engine"
	"webpilot-mcp-server/internal/facts"
	mcpserver "webpilot-mcp-server/internal/mcp"
	"webpilot-mcp-server/internal/recorder"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the WebPilot MCP config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is fine; run on defaults.
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && *ssePort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	factStore, err := facts.NewStore(cfg.Facts)
	if err != nil {
		log.Fatalf("failed to initialize fact store: %v", err)
	}

	sessionManager := browser.NewSessionManager(cfg.Browser, factStore)
	dispatcher, err := engine.NewDispatcher(cfg, sessionManager, factStore)
	if err != nil {
		log.Fatalf("failed to initialize action dispatcher: %v", err)
	}

	if cfg.Server.TraceDir != "" {
		trace, err := recorder.NewRecorder(cfg.Server.TraceDir)
		if err != nil {
			log.Printf("action trace disabled: %v", err)
		} else if err := trace.Start(cfg.Server.Name); err != nil {
			log.Printf("action trace disabled: %v", err)
		} else {
			defer trace.Close()
			dispatcher.SetTrace(trace)
		}
	}

	server, err := mcpserver.NewServer(cfg, sessionManager, dispatcher, factStore)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting WebPilot MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting WebPilot MCP stdio server")
		startErr = server.Start(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		log.Printf("browser shutdown: %v", err)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
