package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/capitalrow/scribed/internal/audio"
	"github.com/capitalrow/scribed/internal/config"
	"github.com/capitalrow/scribed/internal/filter"
	"github.com/capitalrow/scribed/internal/observability"
	"github.com/capitalrow/scribed/internal/pipeline"
	"github.com/capitalrow/scribed/internal/qa"
	"github.com/capitalrow/scribed/internal/ratelimit"
	"github.com/capitalrow/scribed/internal/resilience"
	"github.com/capitalrow/scribed/internal/session"
	"github.com/capitalrow/scribed/internal/transcription"
	"github.com/capitalrow/scribed/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		bootLogger := observability.GetLogger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()
	logger.Info().Str("port", cfg.Port).Msg("starting transcription gateway")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	backend, err := transcription.NewHTTPClient(transcription.ClientConfig{
		Endpoint: cfg.BackendURL,
		APIKey:   cfg.BackendAPIKey,
		Timeout:  cfg.BackendTimeoutDuration(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build backend client")
	}

	breaker := resilience.NewCircuitBreaker("transcription-backend", cfg.BreakerMaxFailures, time.Duration(cfg.BreakerResetTimeout)*time.Second)
	limiter := ratelimit.NewLimiter(rdb, ratelimit.Config{
		BurstLimit:         cfg.RateBurstLimit,
		BurstWindow:        time.Duration(cfg.RateBurstWindow) * time.Second,
		StandardLimit:      cfg.RateStandardLimit,
		StandardWindow:     time.Duration(cfg.RateStandardWindow) * time.Second,
		TranscriptionLimit: cfg.RateTranscriptionLimit,
		ViolationThreshold: cfg.RateViolationThreshold,
		PenaltyBase:        time.Duration(cfg.RatePenaltyBase) * time.Second,
		PenaltyCap:         time.Duration(cfg.RatePenaltyCap) * time.Second,
	}, logger)

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	invoker := transcription.NewInvoker(backend, breaker, limiter, retry, logger)

	sessions := session.NewManager(session.NewRedisStore(rdb), session.ManagerConfig{
		PersistTTL:       cfg.SessionTTLDuration(),
		InactivityLimit:  time.Duration(cfg.SessionInactivityLimit) * time.Second,
		SweepInterval:    time.Duration(cfg.SessionSweepInterval) * time.Second,
		ConnStalenessTTL: time.Duration(cfg.ConnectionStalenessTTL) * time.Second,
		DedupWindowSize:  cfg.DedupWindowSize,
	}, logger)

	quality := qa.NewEngine(cfg.QASampleWindow)
	gateway := transport.NewGateway(sessions, limiter, logger)

	pipe := pipeline.New(pipeline.Deps{
		Normalizer: audio.NewNormalizer(audio.NormalizerConfig{
			MaxBytes:   cfg.AudioMaxBytes,
			MinBytes:   cfg.AudioMinBytes,
			MinSeconds: cfg.AudioMinSeconds,
		}),
		Gate: audio.NewGate(audio.GateConfig{
			ConfidenceThreshold: cfg.GateConfidenceThreshold,
			EnergyFloor:         cfg.GateEnergyFloor,
			AbsoluteEnergy:      cfg.GateAbsoluteEnergy,
			MinZCR:              cfg.GateMinZCR,
			MaxZCR:              cfg.GateMaxZCR,
			FrameSize:           audio.TargetSampleRate * 30 / 1000,
		}),
		Invoker: invoker,
		Filter: filter.New(filter.Config{
			MinConfidence:       cfg.FilterMinConfidence,
			SimilarityThreshold: cfg.DedupSimilarityThreshold,
			RepetitionRunLength: cfg.RepetitionRunLength,
		}),
		Sessions:   sessions,
		Quality:    quality,
		Emitter:    gateway,
		Logger:     logger,
		QueueDepth: cfg.SessionQueueDepth,
	})
	gateway.Bind(pipe)

	sessions.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quality.StartReporter(ctx, time.Duration(cfg.QAReportInterval)*time.Second, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/transcribe", gateway.HandleTranscribe)
	mux.HandleFunc("/healthz", observability.HealthCheckHandler())
	mux.HandleFunc("/readyz", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"redis": func(ctx context.Context) (bool, error) {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return false, err
			}
			return true, nil
		},
		"backend": func(ctx context.Context) (bool, error) {
			if err := backend.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}))
	mux.HandleFunc("/api/qa/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(quality.Report()); err != nil {
			logger.Error().Err(err).Msg("failed to encode quality report")
		}
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown did not complete cleanly")
	}
	pipe.Stop()
	sessions.Stop(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
