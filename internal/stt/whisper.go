package stt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

// whisperSampleRate is the rate Whisper resamples to internally
const whisperSampleRate = 16000

// WhisperConfig configures a WhisperTranscriber
type WhisperConfig struct {
	APIKey   string
	Model    string
	Language string
	BaseURL  string // optional, for OpenAI compatible servers
	TempDir  string // where utterance WAVs are staged; empty means os.TempDir()
}

// WhisperTranscriber sends each utterance to the OpenAI transcription API
type WhisperTranscriber struct {
	client  *openai.Client
	cfg     WhisperConfig
	breaker *resilience.CircuitBreaker
}

// NewWhisperTranscriber creates a transcriber. breaker may be nil.
func NewWhisperTranscriber(cfg WhisperConfig, breaker *resilience.CircuitBreaker) (*WhisperTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &WhisperTranscriber{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		breaker: breaker,
	}, nil
}

// TranscribeUtterance implements UtteranceTranscriber
func (w *WhisperTranscriber) TranscribeUtterance(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	f, err := os.CreateTemp(w.cfg.TempDir, "utterance_*.wav")
	if err != nil {
		return "", fmt.Errorf("create utterance file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	pcm := audio.Resample(samples, sampleRate, whisperSampleRate)
	if err := audio.EncodeWAV(f, pcm, whisperSampleRate); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close utterance file: %w", err)
	}

	var text string
	call := func() error {
		start := time.Now()
		resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    w.cfg.Model,
			FilePath: path,
			Language: w.cfg.Language,
		})
		observability.RecordRecognizerRequest("whisper", start, err == nil)
		if err != nil {
			return fmt.Errorf("whisper transcription: %w", err)
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	}

	if w.breaker == nil {
		if err := call(); err != nil {
			return "", err
		}
		return text, nil
	}
	err = w.breaker.Call(call)
	observability.UpdateCircuitBreakerState(w.breaker.Name(), int(w.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(w.breaker.Name())
		return "", err
	}
	return text, nil
}
