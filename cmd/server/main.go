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

	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/archive"
	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/config"
	"github.com/lexiqai/call-transcriber/internal/events"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/offline"
	"github.com/lexiqai/call-transcriber/internal/recording"
	"github.com/lexiqai/call-transcriber/internal/resilience"
	"github.com/lexiqai/call-transcriber/internal/server"
	"github.com/lexiqai/call-transcriber/internal/session"
	"github.com/lexiqai/call-transcriber/internal/stt"
	"github.com/lexiqai/call-transcriber/internal/telephony"
	"github.com/lexiqai/call-transcriber/internal/transcript"
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
		Str("stt_backend", cfg.STTBackend).
		Str("transcript_store", cfg.TranscriptStore).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Call transcriber starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := transcript.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open transcript store")
	}

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    cfg.RetryBackoff(),
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	liveSink := newSink(cfg, logger, transcript.SourceLive, retry)
	recordingSink := newSink(cfg, logger, transcript.SourceRecording, retry)

	factory, err := stt.NewFactory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create recognizer factory")
	}
	registry := session.NewRegistry(factory, audio.TelephonySampleRate)

	recordings, err := archive.New(ctx, archive.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Secure:    cfg.S3Secure,
		Retry:     retry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize recording archive")
	}

	driver := offline.NewDriver(factory, store, recordingSink, cfg.OfflineChunk())
	fetcher := recording.NewFetcher(&http.Client{}, cfg.RecordingTempDir, cfg.DownloadTimeoutDuration())
	supervisor := recording.NewSupervisor(recording.NewPipeline(fetcher, recordings, driver), cfg.JobMaxConcurrent)

	twilio := telephony.NewWebhookHandler(
		telephony.NewTwilioAdapter(telephony.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			PublicURL:  cfg.PublicURL,
		}),
		supervisor,
		telephony.Routes{StreamPath: server.TwilioStreamPath, RecordingPath: server.TwilioRecordingPath},
		cfg.PublicURL,
	)
	enablex := telephony.NewWebhookHandler(
		telephony.NewEnableXAdapter(telephony.EnableXConfig{
			AppID:  cfg.EnableXAppID,
			AppKey: cfg.EnableXAppKey,
		}),
		supervisor,
		telephony.Routes{StreamPath: server.StreamPath, RecordingPath: server.EnableXRecording},
		cfg.PublicURL,
	)

	checks := map[string]observability.HealthCheckFunc{}
	if p, ok := store.(transcript.Pinger); ok {
		checks["transcript_store"] = p.Ping
	}
	if recordings.Enabled() {
		checks["recording_archive"] = recordings.Ping
	}

	twilioStream := telephony.NewStreamHandler("twilio", registry, liveSink, store)
	genericStream := telephony.NewStreamHandler("stream", registry, liveSink, store)

	router := server.NewRouter(server.Handlers{
		Twilio:       twilio,
		EnableX:      enablex,
		TwilioStream: twilioStream,
		Stream:       genericStream,
		Jobs:         supervisor,
		Store:        store,
		Info: observability.ServiceInfo{
			STTBackend: cfg.STTBackend,
			Vendors: map[string]bool{
				"twilio":  cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "",
				"enablex": cfg.EnableXAppID != "" && cfg.EnableXAppKey != "",
			},
		},
		Checks:  checks,
		Metrics: cfg.MetricsEnabled,
	})

	// No read/write timeouts: call streams stay open for the whole call
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.GRPCHealthPort != "" {
		grpcHealth, err := observability.NewGRPCHealth(":"+cfg.GRPCHealthPort, checks)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to start gRPC health server")
		}
		go func() {
			if err := grpcHealth.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
		defer grpcHealth.Stop()
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("stream_endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, server.TwilioStreamPath)).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	// hijacked websockets outlive srv.Shutdown; finalize and store their calls
	for _, h := range []*telephony.StreamHandler{twilioStream, genericStream} {
		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Live streams did not finish")
		}
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Recording jobs did not finish")
	}
	// anything left here has no stream to store it
	if err := registry.CloseAll(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to close call sessions")
	}
	closers := []struct {
		name   string
		closer interface{ Close() error }
	}{
		{"live_sink", liveSink},
		{"recording_sink", recordingSink},
		{"transcript_store", store},
	}
	for _, c := range closers {
		if err := c.closer.Close(); err != nil {
			logger.Error().Err(err).Str("component", c.name).Msg("Close failed")
		}
	}

	logger.Info().Msg("Server exited gracefully")
}

// newSink fans segments out to the log and the event stream
func newSink(cfg *config.Config, logger zerolog.Logger, source transcript.Source, retry *resilience.RetryConfig) *transcript.Fanout {
	publisher := events.New(&events.Config{
		Brokers:      cfg.KafkaBrokers,
		TopicPartial: cfg.KafkaTopicPartial,
		TopicFinal:   cfg.KafkaTopicFinal,
		Source:       string(source),
		Enabled:      cfg.KafkaEnabled,
		Retry:        retry,
	})
	return transcript.NewFanout(
		transcript.NamedSink{Name: "log", Sink: transcript.NewLogSink(logger.With().Str("source", string(source)).Logger())},
		transcript.NamedSink{Name: "kafka", Sink: publisher},
	)
}
