package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/rs/zerolog/log"
)

// New returns the status server for handler, listening on the configured
// port.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}
}

// Serve runs srv until ctx is cancelled or the process receives SIGINT or
// SIGTERM. The server is then given the configured shutdown timeout to drain
// before the hooks run.
func Serve(ctx context.Context, cfg config.ServerConfig, srv *http.Server, hooks *ShutdownHooks) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", srv.Addr, err)
	}

	return ServeListener(ctx, cfg, srv, ln, hooks)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, cfg config.ServerConfig, srv *http.Server, ln net.Listener, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	// the parent context is already cancelled
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}

	if hooks != nil {
		if err := hooks.Execute(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().Msg("server: shutdown complete")

	return errors.Join(errs...)
}
