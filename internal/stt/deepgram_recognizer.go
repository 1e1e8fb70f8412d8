package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

// DeepgramConfig configures a DeepgramRecognizer
type DeepgramConfig struct {
	APIKey    string
	Model     string
	Language  string
	FlushWait time.Duration // how long FinalResult waits for pending results
	Reconnect *resilience.ReconnectConfig
}

// messageCallbackHandler embeds the default handler and overrides only the
// methods we need
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results to the recognizer
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error forwards provider errors to the recognizer
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// liveClient is the part of the Deepgram websocket client the recognizer uses
type liveClient interface {
	Write(p []byte) (int, error)
	Finalize() error
	Stop()
}

// DeepgramRecognizer streams linear PCM to Deepgram's live API. Endpointing
// happens provider side: interim results become partials and is_final
// results become completed utterances.
type DeepgramRecognizer struct {
	cfg        DeepgramConfig
	sampleRate int
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
	dial       func(ctx context.Context) (liveClient, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	client       liveClient
	active       bool
	reconnecting bool
	flushed      bool // a from_finalize result arrived
	finals       []string
	partial      string
	lastErr      error
}

// NewDeepgramRecognizer opens a live transcription connection for one session
func NewDeepgramRecognizer(ctx context.Context, sessionID string, sampleRate int, cfg DeepgramConfig, breaker *resilience.CircuitBreaker) (*DeepgramRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if cfg.FlushWait <= 0 {
		cfg.FlushWait = 2 * time.Second
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}

	rctx, cancel := context.WithCancel(ctx)
	d := &DeepgramRecognizer{
		cfg:        cfg,
		sampleRate: sampleRate,
		breaker:    breaker,
		logger:     observability.WithCorrelationID(sessionID).With().Str("backend", "deepgram").Logger(),
		ctx:        rctx,
		cancel:     cancel,
	}
	d.dial = d.dialDeepgram

	err := breaker.Call(func() error { return d.connect(rctx) })
	observability.UpdateCircuitBreakerState("deepgram", int(breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		cancel()
		return nil, err
	}
	return d, nil
}

func (d *DeepgramRecognizer) connect(ctx context.Context) error {
	client, err := d.dial(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.ctx.Err() != nil {
		// closed while connecting
		d.mu.Unlock()
		client.Stop()
		return d.ctx.Err()
	}
	d.client = client
	d.active = true
	d.mu.Unlock()

	d.logger.Info().
		Str("model", d.cfg.Model).
		Str("language", d.cfg.Language).
		Int("sample_rate", d.sampleRate).
		Msg("Deepgram streaming connection opened")
	return nil
}

func (d *DeepgramRecognizer) dialDeepgram(ctx context.Context) (liveClient, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.sampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler:           d.handleError,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	return client, nil
}

func (d *DeepgramRecognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.IsFinal {
		d.partial = ""
		if text != "" {
			d.finals = append(d.finals, text)
		}
		if msg.FromFinalize {
			d.flushed = true
		}
		return
	}
	d.partial = text
}

func (d *DeepgramRecognizer) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	d.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")

	d.breaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	observability.IncrementCircuitBreakerFailures("deepgram")

	d.mu.Lock()
	d.active = false
	d.lastErr = fmt.Errorf("deepgram: %v", errorResponse)
	// one reconnect at a time; it owns the failed client
	start := !d.reconnecting && d.ctx.Err() == nil
	var old liveClient
	if start {
		d.reconnecting = true
		old, d.client = d.client, nil
	}
	d.mu.Unlock()

	if start {
		go d.reconnect(old)
	}
	return nil
}

func (d *DeepgramRecognizer) reconnect(old liveClient) {
	defer func() {
		d.mu.Lock()
		d.reconnecting = false
		d.mu.Unlock()
	}()

	if old != nil {
		old.Stop()
	}

	err := resilience.Reconnect(d.ctx, "deepgram", d.connect, d.cfg.Reconnect)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
		return
	}
	d.mu.Lock()
	d.lastErr = nil
	d.mu.Unlock()
}

// AcceptWaveform sends samples and reports whether a final result arrived
func (d *DeepgramRecognizer) AcceptWaveform(samples []int16) (bool, error) {
	start := time.Now()
	err := d.breaker.Call(func() error {
		d.mu.Lock()
		client, active, lastErr := d.client, d.active, d.lastErr
		d.mu.Unlock()

		if !active || client == nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("deepgram connection is not active")
		}
		if _, err := client.Write(audio.SamplesToBytes(samples)); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	observability.RecordRecognizerRequest("deepgram", start, err == nil)
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.finals) > 0, nil
}

// Result returns the finals received since the last call
func (d *DeepgramRecognizer) Result() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := strings.Join(d.finals, " ")
	d.finals = d.finals[:0]
	return text
}

// PartialResult returns the latest interim transcript
func (d *DeepgramRecognizer) PartialResult() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.partial
}

// FinalResult asks Deepgram to finalize the audio sent so far and waits up
// to FlushWait for that result, then returns all remaining text. An interim
// that never finalizes is promoted.
func (d *DeepgramRecognizer) FinalResult() (string, error) {
	d.mu.Lock()
	client, active := d.client, d.active
	d.flushed = false
	d.mu.Unlock()

	finalizing := false
	if active && client != nil {
		if err := client.Finalize(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to send Deepgram finalize")
		} else {
			finalizing = true
		}
	}

	deadline := time.Now().Add(d.cfg.FlushWait)
wait:
	for time.Now().Before(deadline) {
		d.mu.Lock()
		done := d.partial == "" && (!finalizing || d.flushed)
		d.mu.Unlock()
		if done {
			break
		}
		select {
		case <-d.ctx.Done():
			break wait
		case <-time.After(20 * time.Millisecond):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	texts := d.finals
	if d.partial != "" {
		texts = append(texts, d.partial)
	}
	d.finals = nil
	d.partial = ""
	return strings.Join(texts, " "), nil
}

// Close stops reconnection and shuts the stream down
func (d *DeepgramRecognizer) Close() error {
	d.cancel()

	d.mu.Lock()
	client := d.client
	d.client = nil
	d.active = false
	d.mu.Unlock()

	// Stop waits on the SDK's reader, which calls back into d
	if client != nil {
		client.Stop()
	}
	d.logger.Debug().Msg("Deepgram streaming connection closed")
	return nil
}
