package stt

import (
	"context"
	"fmt"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/config"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

// NewFactory returns the recognizer factory for the configured backend.
// Backends that call a remote service share one circuit breaker across all
// sessions.
func NewFactory(cfg *config.Config) (Factory, error) {
	switch cfg.STTBackend {
	case config.BackendMock:
		transcriber := NewLevelTranscriber(nil, cfg.VADEnergyThreshold)
		return NewVADFactory(cfg, transcriber), nil

	case config.BackendWhisper:
		transcriber, err := NewWhisperTranscriber(WhisperConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.WhisperModel,
			TempDir: cfg.RecordingTempDir,
		}, newBreaker(cfg, "whisper"))
		if err != nil {
			return nil, err
		}
		return NewVADFactory(cfg, transcriber), nil

	case config.BackendDeepgram:
		breaker := newBreaker(cfg, "deepgram")
		dgCfg := DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     cfg.ReconnectBackoffDuration(),
				Multiplier:  2.0,
				MaxBackoff:  resilience.DefaultReconnectConfig().MaxBackoff,
			},
		}
		return func(ctx context.Context, sessionID string, sampleRate int) (Recognizer, error) {
			return NewDeepgramRecognizer(ctx, sessionID, sampleRate, dgCfg, breaker)
		}, nil
	}

	return nil, fmt.Errorf("unknown stt backend %q", cfg.STTBackend)
}

// NewVADFactory builds VAD segmented recognizers over transcriber
func NewVADFactory(cfg *config.Config, transcriber UtteranceTranscriber) Factory {
	return func(ctx context.Context, sessionID string, sampleRate int) (Recognizer, error) {
		return NewVADRecognizer(ctx, VADRecognizerConfig{
			SampleRate:   sampleRate,
			VAD:          audio.VADConfigForRate(sampleRate, cfg.VADEnergyThreshold, cfg.VADSilenceFrames),
			MaxUtterance: cfg.MaxUtterance(),
			PartialEvery: cfg.PartialEveryFrames,
		}, transcriber)
	}
}

func newBreaker(cfg *config.Config, name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset())
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger := observability.GetLogger()
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	return cb
}
