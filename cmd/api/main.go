package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voicecharge.org/internal/billing"
	"voicecharge.org/internal/charge"
	"voicecharge.org/internal/config"
	"voicecharge.org/internal/gocardless"
	"voicecharge.org/internal/httpapi"
	"voicecharge.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("build logger", "error", err)
		os.Exit(1)
	}
	obs.SetLogger(logger)
	slog.SetDefault(logger)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	shutdownTracing, err := obs.InitTracing(context.Background(), obs.TracingConfig{
		ServiceName:    "voicecharge",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Error("init tracing", "error", err)
		os.Exit(1)
	}

	orch := charge.New(charge.Options{
		Providers:     providers(cfg, logger),
		DefaultToken:  cfg.AccessToken,
		LookupTimeout: cfg.LookupTimeout,
		Currency:      cfg.Currency,
		Logger:        logger,
	})

	api := httpapi.New(httpapi.Options{
		Charges:       orch,
		ApplicationID: cfg.ApplicationID,
		Version:       version,
		RateBurst:     cfg.RateBurst,
		RatePerSec:    cfg.RatePerSec,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.LookupTimeout + cfg.HTTPTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting voicecharge",
		"version", version,
		"addr", srv.Addr,
		"provider", cfg.Provider,
		"lookup_timeout", cfg.LookupTimeout.String(),
		"trace_exporter", cfg.TraceExporter,
	)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")
	api.SetDraining(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("flush traces", "error", err)
	}
	logger.Info("stopped")
}

// providers picks the billing backend. The memory provider is one shared instance so
// that every token sees the same fixture.
func providers(cfg *config.Config, logger *slog.Logger) billing.ProviderFactory {
	switch cfg.Provider {
	case config.ProviderMemory:
		mem := billing.NewInMemory()
		cfg.SeedMemory(mem)
		logger.Warn("using in-memory billing provider", "customers", len(cfg.MemoryFixture))
		return func(string) billing.Provider { return mem }
	default:
		return gocardless.Factory(cfg.BaseURL, gocardless.NewHTTPClient(cfg.HTTPTimeout))
	}
}
