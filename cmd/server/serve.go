package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-assistant/internal/api"
	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/config"
	"github.com/lexiqai/interview-assistant/internal/hostbridge"
	"github.com/lexiqai/interview-assistant/internal/interview"
	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/realtime"
	"github.com/lexiqai/interview-assistant/internal/records"
	"github.com/lexiqai/interview-assistant/internal/resilience"
	"github.com/lexiqai/interview-assistant/internal/speech"
	"github.com/lexiqai/interview-assistant/internal/stt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API and the host session websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobTitle, _ := cmd.Flags().GetString("job-title")
		topics, _ := cmd.Flags().GetStringSlice("topics")
		return serve(interview.Setup{JobTitle: jobTitle, Topics: topics})
	},
}

func init() {
	serveCmd.Flags().String("job-title", "", "Job title for new interviews")
	serveCmd.Flags().StringSlice("topics", nil, "Focus topics for new interviews (comma separated)")
}

func serve(setup interview.Setup) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_engine", cfg.STTEngine).
		Str("language_mode", cfg.LanguageMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview assistant starting")

	store, err := records.OpenSQLite(cfg.RecordsDBPath, cfg.RecordsStorageKey)
	if err != nil {
		return err
	}
	defer store.Close()

	geminiBreaker := resilience.NewCircuitBreaker("gemini", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset())
	analysisBreaker := resilience.NewCircuitBreaker("analysis", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset())

	var generator api.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := api.NewGeminiAnalyzer(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, geminiBreaker)
		if err != nil {
			return err
		}
		defer gemini.Close()
		generator = gemini
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, answer analysis is disabled")
	}

	apiHandler := api.NewHandler(api.Options{
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		SessionsURL:   cfg.OpenAISessionsURL,
		AllowedOrigin: cfg.AllowedOrigin,
		Analyzer:      generator,
		Logger:        logger,
	})

	analysisClient := interview.NewAnalysisClient(cfg.LocalBaseURL(), nil,
		&resilience.RetryConfig{
			MaxAttempts:       cfg.AnalysisRetryAttempts,
			InitialBackoff:    cfg.RetryBackoff(),
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		analysisBreaker)

	var checkOrigin func(r *http.Request) bool
	if cfg.AllowedOrigin != "" {
		checkOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == "" || r.Header.Get("Origin") == cfg.AllowedOrigin
		}
	}

	router := apiHandler.Routes()
	router.Get("/ws/session", hostbridge.Handler(hostbridge.Options{
		NewController: controllerFactory(cfg),
		Analyzer:      analysisClient,
		Store:         store,
		Setup:         setup,
		CheckOrigin:   checkOrigin,
		Logger:        logger,
	}))

	router.Get("/health", observability.HealthCheckHandler(serviceName))
	router.Get("/ready", observability.ReadinessHandler(serviceName, readinessChecks(cfg, store, geminiBreaker, analysisBreaker)))

	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: host sessions are long-lived websockets
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-quit:
	}

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// controllerFactory builds one speech controller per host connection, each
// with its own capture device and engines
func controllerFactory(cfg *config.Config) hostbridge.ControllerFactory {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return func(sink speech.Sink, logger zerolog.Logger) *speech.Controller {
		device := audio.NewFFmpegDevice(cfg.FFmpegCommand, cfg.AudioInputFormat, cfg.AudioInputDevice)

		engines := speech.Engines{
			Realtime: func(cb stt.Callbacks) stt.Engine {
				return realtime.NewSession(realtime.SessionConfig{
					Issuer:      realtime.NewSessionClient(cfg.LocalBaseURL(), nil, cfg.SessionTimeout()),
					Peers:       &realtime.PionFactory{ICEServers: iceServers, Logger: logger},
					Device:      device,
					RealtimeURL: cfg.OpenAIRealtimeURL,
				}, cb, logger)
			},
		}
		if cfg.DeepgramAPIKey != "" {
			engines.Local = func(cb stt.Callbacks) speech.LocalEngine {
				recognizer := stt.NewDeepgramRecognizer(stt.DeepgramConfig{
					APIKey:                     cfg.DeepgramAPIKey,
					Model:                      cfg.DeepgramModel,
					SampleRate:                 cfg.AudioSampleRate,
					CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
					CircuitBreakerResetTimeout: cfg.CircuitBreakerReset(),
				}, device, logger)
				return stt.NewRecognizerSession(recognizer, stt.DefaultRecognizerConfig(), cb, logger)
			}
		}

		monitor := audio.DefaultMonitorConfig()
		monitor.SampleRate = cfg.AudioSampleRate

		return speech.NewController(controllerOptions(cfg), speech.Dependencies{
			Engines:       engines,
			MonitorDevice: device,
			Monitor:       monitor,
		}, sink, logger)
	}
}

func controllerOptions(cfg *config.Config) speech.Options {
	opts := speech.DefaultOptions()
	opts.Engine = speech.EngineKind(cfg.STTEngine)
	opts.LanguageMode = speech.LanguageMode(cfg.LanguageMode)
	opts.PrimaryLanguage = cfg.PrimaryLanguage
	opts.SecondaryLanguage = cfg.SecondaryLanguage
	opts.Audio = audio.Config{
		AutoGainControl:  cfg.AutoGainControl,
		NoiseSuppression: cfg.NoiseSuppression,
	}
	opts.SampleRate = cfg.AudioSampleRate
	opts.RealtimeModel = cfg.RealtimeModel
	opts.RealtimePrompt = cfg.RealtimePrompt
	opts.RealtimeNoiseReduction = cfg.RealtimeNoiseReduction
	opts.RealtimeSilence = cfg.RealtimeSilence()
	return opts
}

// readinessChecks reports the records database, which upstream keys are
// configured and whether any breaker is open. No upstream calls are made to
// avoid API costs.
func readinessChecks(cfg *config.Config, store *records.SQLiteStore, breakers ...*resilience.CircuitBreaker) map[string]observability.HealthCheckFunc {
	configured := func(name, value string) observability.HealthCheckFunc {
		return func(ctx context.Context) (bool, error) {
			if value == "" {
				return false, fmt.Errorf("%s is not configured", name)
			}
			return true, nil
		}
	}

	checks := map[string]observability.HealthCheckFunc{
		"records": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"gemini": configured("GEMINI_API_KEY", cfg.GeminiAPIKey),
	}
	switch speech.EngineKind(cfg.STTEngine) {
	case speech.EngineRealtime:
		checks["openai"] = configured("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	case speech.EngineLocal:
		checks["deepgram"] = configured("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey)
	}
	for _, breaker := range breakers {
		checks[breaker.Name()+"_circuit"] = breakerCheck(breaker)
	}
	return checks
}

func breakerCheck(breaker *resilience.CircuitBreaker) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		state, requests, failures, rate := breaker.GetStats()
		if state == resilience.StateOpen {
			return false, fmt.Errorf("circuit open: %d of %d requests failed (%.0f%%)", failures, requests, rate)
		}
		return true, nil
	}
}
