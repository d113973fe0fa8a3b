package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicereel/recognition-gateway/internal/config"
	"github.com/voicereel/recognition-gateway/internal/gateway"
	"github.com/voicereel/recognition-gateway/internal/hotwords"
	"github.com/voicereel/recognition-gateway/internal/observability"
	"github.com/voicereel/recognition-gateway/internal/recognition"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.RecognitionModel).
		Int("sample_rate", cfg.SampleRate).
		Bool("credential_configured", cfg.HasCredential()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Recognition Gateway Service starting")

	if !cfg.HasCredential() {
		// Not fatal: start requests will be rejected per connection until
		// DASHSCOPE_API_KEY is provided.
		logger.Warn().Msg("DASHSCOPE_API_KEY not configured, recognition requests will be rejected")
	}

	// Load hot word vocabulary hints; the service runs without them
	hotWords, err := hotwords.Load(cfg.HotWordsFile)
	if err != nil {
		logger.Warn().Err(err).Str("file", cfg.HotWordsFile).Msg("Hot words unavailable, continuing without vocabulary hints")
	} else {
		logger.Info().
			Int("count", len(hotWords.HotWords)).
			Bool("enabled", hotWords.Settings.Enabled).
			Msg("Hot words loaded")
	}

	provider := recognition.NewDashScopeClient(cfg)
	registry := recognition.NewRegistry()
	gw := gateway.New(cfg, provider, registry, hotWords)

	// Create HTTP server
	mux := http.NewServeMux()

	// Streaming recognition WebSocket endpoint
	mux.HandleFunc("/streams/recognition", gw.Handler())

	// Hot words inspection endpoint
	mux.HandleFunc("/api/hot-words", gw.HotWordsHandler())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - probe functions are created here to avoid import cycles
	credentialCheck := func(ctx context.Context) (bool, error) {
		if !cfg.HasCredential() {
			return false, fmt.Errorf("DASHSCOPE_API_KEY not configured")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"dashscope_credential": credentialCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. No WriteTimeout: the recognition
	// endpoint holds long-lived WebSocket connections.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/recognition", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
