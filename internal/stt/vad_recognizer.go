package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/call-transcriber/internal/audio"
)

// VADRecognizerConfig configures utterance segmentation
type VADRecognizerConfig struct {
	SampleRate   int
	VAD          *audio.VADConfig
	MaxUtterance time.Duration // forces a boundary; 0 means unbounded
	PartialEvery int           // speech frames between partial hypotheses; 0 disables
	Timeout      time.Duration // per transcription call; 0 means no timeout
}

// VADRecognizer finds utterance boundaries with an energy VAD and hands
// each completed utterance to an UtteranceTranscriber.
type VADRecognizer struct {
	ctx         context.Context
	cfg         VADRecognizerConfig
	vad         *audio.VADDetector
	buf         *audio.SampleBuffer
	transcriber UtteranceTranscriber

	carry        []int16 // samples not yet run through the VAD
	pending      string
	partial      string
	speechFrames int
	closed       bool
}

// NewVADRecognizer creates a recognizer for one session. ctx bounds every
// transcription call it makes.
func NewVADRecognizer(ctx context.Context, cfg VADRecognizerConfig, transcriber UtteranceTranscriber) (*VADRecognizer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.VAD == nil {
		cfg.VAD = audio.VADConfigForRate(cfg.SampleRate, 500, 10)
	}
	if err := cfg.VAD.Validate(); err != nil {
		return nil, err
	}
	if transcriber == nil {
		return nil, fmt.Errorf("utterance transcriber is required")
	}

	// whole frames only, so a forced boundary never cuts a frame
	capacity := 0
	if cfg.MaxUtterance > 0 {
		frameSize := cfg.VAD.FrameSize
		capacity = int(cfg.MaxUtterance.Seconds()*float64(cfg.SampleRate)) / frameSize * frameSize
		if capacity < frameSize {
			capacity = frameSize
		}
	}

	return &VADRecognizer{
		ctx:         ctx,
		cfg:         cfg,
		vad:         audio.NewVADDetector(cfg.VAD),
		buf:         audio.NewSampleBuffer(capacity),
		transcriber: transcriber,
	}, nil
}

// AcceptWaveform runs samples through the VAD frame by frame. It stops at
// the first utterance boundary and keeps the remaining samples for the next
// call, so one call yields at most one utterance.
func (r *VADRecognizer) AcceptWaveform(samples []int16) (bool, error) {
	if r.closed {
		return false, fmt.Errorf("recognizer closed")
	}
	r.carry = append(r.carry, samples...)

	boundary, err := r.consume()
	if err != nil {
		return false, err
	}
	return boundary, nil
}

// consume processes whole frames from carry until a boundary is found
func (r *VADRecognizer) consume() (bool, error) {
	frameSize := r.cfg.VAD.FrameSize
	offset := 0
	defer func() {
		r.carry = append(r.carry[:0], r.carry[offset:]...)
	}()

	for len(r.carry)-offset >= frameSize {
		frame := r.carry[offset : offset+frameSize]
		offset += frameSize

		res := r.vad.ProcessFrame(frame)
		if !res.Speaking && !res.Ended {
			continue
		}

		r.buf.Write(frame)
		if res.Ended || r.buf.IsFull() {
			if !res.Ended {
				r.vad.Reset()
			}
			text, err := r.transcribe(r.buf.Drain())
			r.partial = ""
			r.speechFrames = 0
			if err != nil {
				return false, err
			}
			r.pending = text
			return true, nil
		}

		r.speechFrames++
		if r.cfg.PartialEvery > 0 && r.speechFrames%r.cfg.PartialEvery == 0 {
			text, err := r.transcribe(r.buf.Snapshot())
			if err != nil {
				return false, err
			}
			r.partial = text
		}
	}
	return false, nil
}

// Result returns the completed utterance text and clears it
func (r *VADRecognizer) Result() string {
	text := r.pending
	r.pending = ""
	return text
}

// PartialResult returns the latest hypothesis for the open utterance
func (r *VADRecognizer) PartialResult() string {
	return r.partial
}

// FinalResult drains pending samples, including a trailing partial frame,
// and transcribes everything still buffered. Utterances completed during
// the drain are joined with a space.
func (r *VADRecognizer) FinalResult() (string, error) {
	var texts []string
	if r.pending != "" {
		texts = append(texts, r.Result())
	}

	for len(r.carry) >= r.cfg.VAD.FrameSize {
		boundary, err := r.consume()
		if err != nil {
			return "", err
		}
		if !boundary {
			break
		}
		if text := r.Result(); text != "" {
			texts = append(texts, text)
		}
	}

	// trailing partial frame belongs to an open utterance only
	if len(r.carry) > 0 && r.vad.IsSpeaking() {
		r.buf.Write(r.carry)
	}
	r.carry = r.carry[:0]

	if !r.buf.IsEmpty() {
		text, err := r.transcribe(r.buf.Drain())
		if err != nil {
			return "", err
		}
		if text != "" {
			texts = append(texts, text)
		}
	}

	r.vad.Reset()
	r.partial = ""
	r.speechFrames = 0
	return strings.Join(texts, " "), nil
}

// Close releases the recognizer; further audio is rejected
func (r *VADRecognizer) Close() error {
	r.closed = true
	r.buf.Clear()
	r.carry = nil
	return nil
}

func (r *VADRecognizer) transcribe(samples []int16) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	ctx := r.ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	text, err := r.transcriber.TranscribeUtterance(ctx, samples, r.cfg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("transcribe utterance: %w", err)
	}
	return strings.TrimSpace(text), nil
}
