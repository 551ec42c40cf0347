// Package main is the entry point for the order relay. It loads
// configuration, assembles the HTTP surface, starts the server, and handles
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/logging"
	"github.com/dskow/order-relay/internal/metrics"
	"github.com/dskow/order-relay/internal/ratelimit"
	"github.com/dskow/order-relay/internal/server"
	"github.com/dskow/order-relay/internal/telemetry"
	"github.com/dskow/order-relay/internal/tlsutil"
	"github.com/dskow/order-relay/internal/upstream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "order-relay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("order-relay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to an optional YAML configuration file")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"api_version", cfg.Upstream.APIVersion,
		"lookup_strategy", cfg.Upstream.LookupStrategy,
		"upstream_timeout", cfg.Upstream.Timeout(),
		"rate_limit_algorithm", cfg.RateLimit.Algorithm,
		"rate_limit_max", cfg.RateLimit.Max,
		"rate_limit_window", cfg.RateLimit.Window,
		"cors_mode", cfg.CORS.Mode,
		"jwt_enabled", cfg.Auth.JWT.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"tracing_enabled", cfg.Tracing.Enabled,
		"tls_enabled", cfg.Server.TLS.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	if cfg.Tracing.Enabled {
		// Spans go to stderr so they do not interleave with JSON logs.
		shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				logger.Error("tracer shutdown failed", "error", err)
			}
		}()
	}

	client := upstream.New(cfg.Upstream, logger)
	limiter := ratelimit.New(cfg.RateLimit, logger)
	relay := server.New(cfg, client, limiter, logger)

	var srv *http.Server
	if cfg.Server.TLS.Enabled {
		certs, err := tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		defer certs.Stop()
		srv = relay.HTTPServer(certs.ServerConfig(cfg.Server.TLS))
	} else {
		srv = relay.HTTPServer(nil)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting order relay", "addr", srv.Addr)
		var err error
		if srv.TLSConfig != nil {
			// Certificates come from TLSConfig.GetCertificate.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("order relay stopped gracefully")
	return nil
}
