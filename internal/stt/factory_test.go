package stt

import (
	"context"
	"testing"

	"github.com/lexiqai/call-transcriber/internal/config"
	"github.com/lexiqai/call-transcriber/internal/resilience"
)

func testConfig() *config.Config {
	return &config.Config{
		STTBackend:                 config.BackendMock,
		VADEnergyThreshold:         500,
		VADSilenceFrames:           10,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestNewFactory_Mock(t *testing.T) {
	factory, err := NewFactory(testConfig())
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	a, err := factory(context.Background(), "A", 8000)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	b, err := factory(context.Background(), "B", 8000)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if a == b {
		t.Error("Expected a fresh recognizer per session")
	}

	if _, err := a.AcceptWaveform(frame(160*3, 2000)); err != nil {
		t.Fatalf("AcceptWaveform failed: %v", err)
	}
	text, err := a.FinalResult()
	if err != nil || text != "test" {
		t.Errorf("Expected 'test', got %q, %v", text, err)
	}

	// b saw none of a's audio
	text, err = b.FinalResult()
	if err != nil || text != "" {
		t.Errorf("Expected empty result for untouched recognizer, got %q, %v", text, err)
	}
}

func TestNewFactory_Whisper(t *testing.T) {
	cfg := testConfig()
	cfg.STTBackend = config.BackendWhisper
	cfg.OpenAIAPIKey = "sk-test"

	factory, err := NewFactory(cfg)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	rec, err := factory(context.Background(), "A", 16000)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, ok := rec.(*VADRecognizer); !ok {
		t.Errorf("Expected *VADRecognizer, got %T", rec)
	}
}

func TestNewFactory_Unknown(t *testing.T) {
	cfg := testConfig()
	cfg.STTBackend = "vosk"
	if _, err := NewFactory(cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewBreaker_ReportsStateChanges(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreakerMaxFailures = 2
	cb := newBreaker(cfg, "breaker-test")

	cb.RecordResult(false)
	if cb.GetState() != resilience.StateClosed {
		t.Errorf("Expected closed after one failure, got %s", cb.GetState())
	}
	cb.RecordResult(false)
	if cb.GetState() != resilience.StateOpen {
		t.Errorf("Expected open after two failures, got %s", cb.GetState())
	}
}
