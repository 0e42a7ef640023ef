package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/api"
	"github.com/Mindburn-Labs/transmuter/pkg/config"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

const tokenIssuer = "transmuter"

// runServeCmd implements `transmuter serve`.
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = startup or runtime failure
//	2 = usage error
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "", "Listen address (default :$PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadWithFile()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr == "" {
		*addr = ":" + cfg.Port
	}
	logger := newLogger(cfg, stdout)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen failed", "addr", *addr, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg, ln, logger); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the API on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Close(shutdownCtx); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	opts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithVersion(version),
		api.WithAuthority(api.NewTokenAuthority(cfg.JWTSecret, tokenIssuer)),
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; every protected route will answer 401")
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	sweepStop := make(chan struct{})
	defer close(sweepStop)
	go limiter.Run(time.Minute, sweepStop)
	opts = append(opts, api.WithRateLimiter(limiter))

	if cfg.Sandbox {
		logger.Warn("sandbox routes enabled")
		opts = append(opts, api.WithSandbox(n.ledger, n.bank))
	}

	srv, err := api.NewServer(n.svc, opts...)
	if err != nil {
		_ = ln.Close()
		return err
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("transmuter listening", "addr", ln.Addr().String(), "store", cfg.StoreBackend, "version", version)
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runTokenCmd implements `transmuter token <address>`: it prints a bearer
// token for the address signed with JWT_SECRET.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	ttl := cmd.Duration("ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: transmuter token [--ttl 1h] <address>")
		return 2
	}

	cfg, err := config.LoadWithFile()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	authority := api.NewTokenAuthority(cfg.JWTSecret, tokenIssuer)
	if authority == nil {
		_, _ = fmt.Fprintln(stderr, "Error: JWT_SECRET is not set")
		return 1
	}
	tok, err := authority.Issue(contracts.Address(cmd.Arg(0)), *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}
