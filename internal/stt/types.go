package stt

import (
	"context"
	"time"
)

// Segment is one transcript result emitted by an Engine
type Segment struct {
	// SessionID is the call or job the audio belongs to
	SessionID string

	// Text is the transcribed text
	Text string

	// Final marks a committed utterance; partials are superseded by later
	// segments and are never persisted
	Final bool

	// Seq increases by one per emitted segment within a session
	Seq int

	// Offset is the audio time consumed when the segment was emitted
	Offset time.Duration
}

// Recognizer is a stateful streaming recognizer owned by exactly one
// session or job.
type Recognizer interface {
	// AcceptWaveform consumes PCM samples and reports whether an utterance
	// boundary was reached. When true, Result returns the utterance text.
	AcceptWaveform(samples []int16) (bool, error)

	// Result returns the text of the completed utterance and clears it
	Result() string

	// PartialResult returns the current hypothesis for the open utterance
	PartialResult() string

	// FinalResult flushes all buffered audio as one final utterance
	FinalResult() (string, error)

	// Close releases recognizer resources
	Close() error
}

// Factory builds a fresh Recognizer for one session or job
type Factory func(ctx context.Context, sessionID string, sampleRate int) (Recognizer, error)

// UtteranceTranscriber turns the audio of one complete utterance into text
type UtteranceTranscriber interface {
	TranscribeUtterance(ctx context.Context, samples []int16, sampleRate int) (string, error)
}
