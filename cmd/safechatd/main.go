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
	"time"

	"SafeChat/internal/audit"
	"SafeChat/internal/chat"
	"SafeChat/internal/config"
	"SafeChat/internal/provider"
	"SafeChat/internal/redact"
	"SafeChat/internal/server"
	"SafeChat/internal/session"
	"SafeChat/internal/telemetry"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.Provider, "provider", cfg.Provider, "LLM provider (ollama|azure)")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "HTTP listen address")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	gateway, err := provider.New(providerSettings(cfg), logger, tracer, meter)
	if err != nil {
		return err
	}

	policy := redact.DefaultPolicy()
	if cfg.PolicyFile != "" {
		policy, err = redact.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
	}
	pipeline := redact.Default(redact.Config{
		Language:  cfg.RedactionLanguage,
		Threshold: cfg.RedactionThreshold,
		Policy:    policy,
	}, logger)

	var recorder *audit.Recorder
	if cfg.AuditDBPath != "" {
		recorder, err = audit.Open(cfg.AuditDBPath, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	store := session.NewStore(cfg.SessionCapacity)
	orch := chat.New(store, gateway, pipeline, recorder, chat.Options{
		SystemPrompt:     cfg.SystemPrompt(),
		RedactionEnabled: cfg.RedactionEnabled,
	}, logger, tracer, meter)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(orch, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "provider", cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func providerSettings(cfg config.Config) provider.Settings {
	s := provider.Settings{
		Variant: cfg.Provider,
		Timeout: cfg.DispatchTimeout,
	}
	switch cfg.Provider {
	case config.ProviderOllama:
		s.BaseURL = cfg.OllamaBaseURL
		s.Model = cfg.OllamaModel
	case config.ProviderAzure:
		s.Endpoint = cfg.AzureEndpoint
		s.APIKey = cfg.AzureAPIKey
		s.APIVersion = cfg.AzureAPIVersion
		s.Model = cfg.AzureModel
	}
	return s
}
