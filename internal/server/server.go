package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mwhitford/cabinet/internal/api"
	"github.com/mwhitford/cabinet/internal/config"
	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/home"
	"github.com/mwhitford/cabinet/internal/intake"
	"github.com/mwhitford/cabinet/internal/server/endpoints"
	"github.com/mwhitford/cabinet/internal/store"
	"github.com/mwhitford/cabinet/internal/svcctx"
)

// Server is the main Cabinet HTTP server. It owns the record store and the
// intake orchestrator, opening both on start and closing them on shutdown.
type Server struct {
	httpServer *http.Server
	homeDir    *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	recordStore *store.Store
	orch        *intake.Orchestrator

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the cabinet home directory
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// ExtractClient overrides the HTTP extraction client (tests)
	ExtractClient extract.Client
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		homeDir:   cfg.Home,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// The orchestrator is created up front so the config watcher can push
	// policy updates into it; the extraction client it uses is fixed.
	client := cfg.ExtractClient
	if client == nil {
		client = extract.NewHTTPClient(cfg.ConfigManager.Get().ExtractClientConfig())
	}
	appCfg := cfg.ConfigManager.Get()
	s.orch = intake.New(intake.Config{
		Client: client,
		Saver:  saverFunc(s.saveRecord),
		Logger: cfg.Logger,
		Policy: intake.Policy{
			MaxUploadBytes: appCfg.Intake.MaxUploadBytes,
			Thresholds:     appCfg.Thresholds(),
			StageDelay:     appCfg.StageDelay(),
		},
	})

	cfg.ConfigManager.OnChange(func(c *config.Config) {
		s.orch.SetPolicy(intake.Policy{
			MaxUploadBytes: c.Intake.MaxUploadBytes,
			Thresholds:     c.Thresholds(),
			StageDelay:     c.StageDelay(),
		})
		cfg.Logger.Info("intake policy reloaded from config")
	})

	return s, nil
}

// saverFunc adapts a function to the intake.RecordSaver interface.
type saverFunc func(ctx context.Context, rec *store.Record) (*store.Record, error)

func (f saverFunc) SaveRecord(ctx context.Context, rec *store.Record) (*store.Record, error) {
	return f(ctx, rec)
}

// saveRecord routes intake persistence to the store once it is open.
func (s *Server) saveRecord(ctx context.Context, rec *store.Record) (*store.Record, error) {
	s.mu.RLock()
	st := s.recordStore
	s.mu.RUnlock()
	if st == nil {
		return nil, errors.New("record store not initialized")
	}
	return st.SaveRecord(ctx, rec)
}

// Start opens the record store and runs the HTTP server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.homeDir.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	s.logger.Info("opening record store", "path", s.homeDir.DatabasePath())
	recordStore, err := store.Open(s.homeDir.DatabasePath(), s.logger)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open record store: %w", err)
	}
	s.mu.Lock()
	s.recordStore = recordStore
	s.mu.Unlock()

	s.services = &svcctx.Services{
		Store:     recordStore,
		Intake:    s.orch,
		ConfigMgr: s.configMgr,
		Logger:    s.logger,
		Home:      s.homeDir,
	}

	// Watch the config file for edits while running
	s.configMgr.WatchConfig()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.Lock()
	recordStore := s.recordStore
	s.recordStore = nil
	s.mu.Unlock()
	if recordStore != nil {
		if err := recordStore.Close(); err != nil {
			s.logger.Error("record store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the full HTTP handler with services enrichment (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Intake returns the intake orchestrator.
func (s *Server) Intake() *intake.Orchestrator {
	return s.orch
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the record store isn't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := s.recordStore != nil
		s.mu.RUnlock()
		if !ready {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
