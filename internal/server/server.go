// Package server runs the HTTP listener together with the background
// workers and shuts them down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function that shuts down a component gracefully.
type ShutdownFunc func(ctx context.Context) error

// Worker is a long-running background component such as the scheduler.
type Worker interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Options configures the HTTP listener.
type Options struct {
	Port              int
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

type worker struct {
	name string
	w    Worker
}

// Server wraps http.Server with background workers and graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu            sync.Mutex
	workers       []worker
	shutdownFuncs []ShutdownFunc
}

// New creates a new Server instance.
func New(handler http.Handler, opts Options, logger *slog.Logger) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logger,
	}
}

// AddWorker registers a worker that starts with Run and stops after the
// HTTP server, before any OnShutdown function.
func (s *Server) AddWorker(name string, w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, w: w})
}

// OnShutdown registers a function to be called during graceful shutdown.
// Functions run in reverse registration order after workers have stopped,
// so connections opened first are closed last.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, named(s.logger, name, fn))
}

func named(logger *slog.Logger, name string, fn ShutdownFunc) ShutdownFunc {
	return func(ctx context.Context) error {
		logger.Info("shutting down component", "name", name)
		if err := fn(ctx); err != nil {
			logger.Error("component shutdown error", "name", name, "error", err)
			return err
		}
		logger.Info("component stopped", "name", name)
		return nil
	}
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext starts the listener and workers and blocks until ctx is
// done or the listener fails, then shuts everything down.
func (s *Server) RunContext(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	s.mu.Lock()
	workers := append([]worker(nil), s.workers...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, wk := range workers {
		wg.Add(1)
		go func(wk worker) {
			defer wg.Done()
			s.logger.Info("worker starting", "name", wk.name)
			if err := wk.w.Run(workerCtx); err != nil {
				s.logger.Error("worker stopped with error", "name", wk.name, "error", err)
			}
		}(wk)
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownErr := s.gracefulShutdown(workers, cancelWorkers)
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// gracefulShutdown stops the listener, then the workers, then the
// registered components.
func (s *Server) gracefulShutdown(workers []worker, cancelWorkers context.CancelFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// Phase 1: stop accepting new connections
	s.logger.Info("phase 1: stopping HTTP server", "timeout", s.shutdownTimeout)
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	s.logger.Info("HTTP server stopped")

	var errs []error

	// Phase 2: workers, last registered first
	s.logger.Info("phase 2: stopping workers", "count", len(workers))
	for i := len(workers) - 1; i >= 0; i-- {
		wk := workers[i]
		if err := named(s.logger, wk.name, wk.w.Shutdown)(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	cancelWorkers()

	// Phase 3: stores and caches
	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.mu.Unlock()

	s.logger.Info("phase 3: stopping registered components", "count", len(funcs))
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors", "error_count", len(errs))
		return errors.Join(errs...)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
