package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

func offlineDeepgram(flushWait time.Duration) *DeepgramRecognizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeepgramRecognizer{
		cfg:        DeepgramConfig{FlushWait: flushWait},
		sampleRate: 8000,
		breaker:    resilience.NewCircuitBreaker("deepgram-test", 5, time.Second),
		logger:     observability.GetLogger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func TestDeepgramRecognizer_ResultDrainsFinals(t *testing.T) {
	d := offlineDeepgram(10 * time.Millisecond)
	d.finals = []string{"hello", "world"}

	if got := d.Result(); got != "hello world" {
		t.Errorf("Expected 'hello world', got %q", got)
	}
	if got := d.Result(); got != "" {
		t.Errorf("Expected finals drained, got %q", got)
	}
}

func TestDeepgramRecognizer_FinalResultPromotesPartial(t *testing.T) {
	d := offlineDeepgram(30 * time.Millisecond)
	d.finals = []string{"good"}
	d.partial = "bye"

	text, err := d.FinalResult()
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	if text != "good bye" {
		t.Errorf("Expected 'good bye', got %q", text)
	}
	if d.PartialResult() != "" {
		t.Errorf("Expected partial cleared, got %q", d.PartialResult())
	}
}

func TestDeepgramRecognizer_AcceptWaveformInactive(t *testing.T) {
	d := offlineDeepgram(10 * time.Millisecond)

	if _, err := d.AcceptWaveform(frame(160, 0)); err == nil {
		t.Error("Expected error without an active connection")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNewDeepgramRecognizer_RequiresKey(t *testing.T) {
	if _, err := NewDeepgramRecognizer(context.Background(), "CA1", 8000, DeepgramConfig{}, nil); err == nil {
		t.Error("Expected error without api key")
	}
}

type fakeLiveClient struct {
	mu         sync.Mutex
	writes     int
	finalizes  int
	stops      int
	onFinalize func()
	finalErr   error
}

func (f *fakeLiveClient) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return len(p), nil
}

func (f *fakeLiveClient) Finalize() error {
	f.mu.Lock()
	f.finalizes++
	cb := f.onFinalize
	f.mu.Unlock()
	if f.finalErr != nil {
		return f.finalErr
	}
	if cb != nil {
		cb()
	}
	return nil
}

func (f *fakeLiveClient) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeLiveClient) counts() (finalizes, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalizes, f.stops
}

func finalMessage(text string, fromFinalize bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		IsFinal:      true,
		FromFinalize: fromFinalize,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
	}
}

func TestDeepgramRecognizer_FinalResultFlushesTrailingAudio(t *testing.T) {
	d := offlineDeepgram(2 * time.Second)
	client := &fakeLiveClient{}
	client.onFinalize = func() {
		go func() {
			time.Sleep(50 * time.Millisecond)
			d.handleMessage(finalMessage("tail", true))
		}()
	}
	d.client = client
	d.active = true
	d.finals = []string{"head"}

	start := time.Now()
	text, err := d.FinalResult()
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	if text != "head tail" {
		t.Errorf("Expected 'head tail', got %q", text)
	}
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("Expected FinalResult to return on the flushed result, took %v", elapsed)
	}
	if finalizes, _ := client.counts(); finalizes != 1 {
		t.Errorf("Expected 1 finalize, got %d", finalizes)
	}
}

func TestDeepgramRecognizer_FinalResultWithoutFlushResponse(t *testing.T) {
	d := offlineDeepgram(50 * time.Millisecond)
	d.client = &fakeLiveClient{}
	d.active = true
	d.finals = []string{"only"}

	text, err := d.FinalResult()
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	if text != "only" {
		t.Errorf("Expected 'only', got %q", text)
	}
}

func TestDeepgramRecognizer_FinalResultFinalizeError(t *testing.T) {
	d := offlineDeepgram(2 * time.Second)
	d.client = &fakeLiveClient{finalErr: errors.New("socket closed")}
	d.active = true
	d.finals = []string{"kept"}

	start := time.Now()
	text, _ := d.FinalResult()
	if text != "kept" {
		t.Errorf("Expected 'kept', got %q", text)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Expected no flush wait after a failed finalize, took %v", elapsed)
	}
}

func TestDeepgramRecognizer_ErrorsShareOneReconnect(t *testing.T) {
	d := offlineDeepgram(10 * time.Millisecond)
	d.cfg.Reconnect = &resilience.ReconnectConfig{MaxAttempts: 1, Backoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond}

	old := &fakeLiveClient{}
	fresh := &fakeLiveClient{}
	release := make(chan struct{})
	var dialMu sync.Mutex
	dials := 0
	d.dial = func(ctx context.Context) (liveClient, error) {
		dialMu.Lock()
		dials++
		dialMu.Unlock()
		<-release
		return fresh, nil
	}
	d.client = old
	d.active = true

	d.handleError(&msginterfaces.ErrorResponse{})
	d.handleError(&msginterfaces.ErrorResponse{})
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		done := d.active && !d.reconnecting
		d.mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	dialMu.Lock()
	defer dialMu.Unlock()
	if dials != 1 {
		t.Errorf("Expected 1 dial, got %d", dials)
	}
	if _, stops := old.counts(); stops != 1 {
		t.Errorf("Expected old client stopped once, got %d", stops)
	}
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != liveClient(fresh) {
		t.Error("Expected the reconnected client to be installed")
	}
}

func TestDeepgramRecognizer_CloseStopsClient(t *testing.T) {
	d := offlineDeepgram(10 * time.Millisecond)
	client := &fakeLiveClient{}
	d.client = client
	d.active = true

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, stops := client.counts(); stops != 1 {
		t.Errorf("Expected client stopped once, got %d", stops)
	}
	d.handleError(&msginterfaces.ErrorResponse{})
	d.mu.Lock()
	reconnecting := d.reconnecting
	d.mu.Unlock()
	if reconnecting {
		t.Error("Expected no reconnect after Close")
	}
}
