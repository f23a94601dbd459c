// Command server runs the payment, tip and wallet sign-in endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/basehealth/x402"
	"github.com/basehealth/x402/config"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/metrics"
	"github.com/basehealth/x402/price"
	"github.com/basehealth/x402/server"
	"github.com/basehealth/x402/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	opts := []x402.Option{
		x402.WithLogger(zl),
		x402.WithPriceSource(price.NewCache(
			price.NewHTTPSource(cfg.PriceFeedURL, &http.Client{Timeout: 10 * time.Second}),
			price.WithTTL(cfg.PriceCacheTTL),
			price.WithLogger(zl),
		)),
	}

	var registry *prometheus.Registry
	if cfg.EnableMetrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := metrics.NewPrometheusRecorder(registry)
		if err != nil {
			return err
		}
		opts = append(opts, x402.WithMetrics(recorder))
	}

	if cfg.DatabaseURL != "" {
		ledger, err := storage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		opts = append(opts, x402.WithLedger(ledger))
	} else {
		zl.Warn("DATABASE_URL not set, using in-memory ledger", nil)
	}

	x, err := x402.New(cfg.X402Config(), opts...)
	if err != nil {
		return err
	}
	defer x.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srvOpts := []server.Option{
		server.WithLogger(zl),
		server.WithSecureCookies(cfg.CookieSecure),
		server.WithNonceTTL(cfg.SignInFreshness),
	}
	if registry != nil {
		srvOpts = append(srvOpts, server.WithMetricsGatherer(registry))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(x, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", map[string]any{"addr": cfg.HTTPAddr, "network": cfg.Network})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
