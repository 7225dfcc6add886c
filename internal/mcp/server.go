// Package mcp provides an MCP (Model Context Protocol) server for rulesim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/rulesim/internal/config"
	"github.com/nvandessel/rulesim/internal/logging"
	"github.com/nvandessel/rulesim/internal/ratelimit"
	"github.com/nvandessel/rulesim/internal/store"
)

// Server wraps the MCP SDK server and exposes the simulator as tools.
type Server struct {
	server *sdk.Server
	cfg    *config.Config
	logger *slog.Logger

	// runs is nil when the store is disabled.
	runs *store.RunStore

	toolLimiters ratelimit.ToolLimiters

	// runMu serializes experiments.
	runMu sync.Mutex
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "rulesim")
	Version string // Server version

	// Settings supplies model and experiment defaults. Nil means config.Default().
	Settings *config.Config

	Logger *slog.Logger
}

// NewServer creates a new MCP server with rulesim tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var runs *store.RunStore
	if !settings.Store.Disabled {
		dir, err := settings.StoreDir()
		if err != nil {
			return nil, err
		}
		runs, err = store.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server: mcpServer,
		cfg:    settings,
		logger: logger,
		runs:   runs,

		toolLimiters: ratelimit.NewToolLimiters(),
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.Close()

	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	if s.runs == nil {
		return nil
	}
	err := s.runs.Close()
	s.runs = nil
	return err
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The signal
// handlers are released once the context is done.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
