package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stackrent/stackrent/internal/core/crypto"
	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/shell/api"
	"github.com/stackrent/stackrent/internal/shell/audit"
	"github.com/stackrent/stackrent/internal/shell/billing"
	"github.com/stackrent/stackrent/internal/shell/compute"
	"github.com/stackrent/stackrent/internal/shell/keysync"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server represents the StackRent application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	scheduler  *billing.Driver
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg.Crypto.Passphrase == "" {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      errors.New("crypto.passphrase is required (STACKRENT_CRYPTO_PASSPHRASE)"),
			ExitCode: ExitConfigError,
		}
	}
	encryptionKey := crypto.DeriveKey(cfg.Crypto.Passphrase)

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	recorder := audit.NewStoreRecorder(s, logger)
	computeSvc := compute.NewService(s, encryptionKey, recorder, logger)
	keysSvc := keysync.NewService(s, computeSvc, recorder, logger)

	// Billing engine with the compute service as suspender: a wallet that
	// runs dry shuts the instance down.
	engine := billing.NewEngine(s, computeSvc, logger)

	// In-process fallback driver. The standalone stackrent-billd daemon is
	// the primary; this one stands down while the daemon heartbeats.
	var scheduler *billing.Driver
	if cfg.Billing.SchedulerEnabled {
		scheduler = billing.NewDriver(engine, s, domain.DriverScheduler, billing.DriverConfig{
			Interval:           cfg.Billing.Interval,
			StalenessThreshold: cfg.Billing.StalenessThreshold,
		}, logger)
	} else {
		logger.Info("in-process billing scheduler disabled")
	}

	handler := api.NewHandler(s, computeSvc, keysSvc, engine, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		scheduler:  scheduler,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the in-process billing scheduler
	if s.scheduler != nil {
		s.scheduler.Start()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the billing scheduler, waiting for an in-progress pass
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
