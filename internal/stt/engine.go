package stt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
)

// State is the lifecycle state of an Engine
type State int

const (
	StateListening State = iota
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrEngineFinalized is returned when feeding or finalizing a finished engine
var ErrEngineFinalized = errors.New("engine already finalized")

// Engine drives one Recognizer for one session and turns its results into
// ordered segments.
type Engine struct {
	sessionID  string
	rec        Recognizer
	sampleRate int

	mu          sync.Mutex
	state       State
	seq         int
	samples     int64
	lastPartial string
}

// NewEngine wraps rec. sampleRate is used to compute segment offsets.
func NewEngine(sessionID string, rec Recognizer, sampleRate int) *Engine {
	return &Engine{
		sessionID:  sessionID,
		rec:        rec,
		sampleRate: sampleRate,
		state:      StateListening,
	}
}

// SessionID returns the owning session id
func (e *Engine) SessionID() string {
	return e.sessionID
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Feed pushes samples into the recognizer and returns at most one segment.
// A recognizer failure drops the frame and returns *errorsx.RecognizerError;
// the engine keeps listening.
func (e *Engine) Feed(samples []int16) (*Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateListening {
		return nil, ErrEngineFinalized
	}
	if len(samples) == 0 {
		return nil, nil
	}

	final, err := e.rec.AcceptWaveform(samples)
	if err != nil {
		return nil, &errorsx.RecognizerError{SessionID: e.sessionID, Err: err}
	}
	e.samples += int64(len(samples))

	if final {
		e.lastPartial = ""
		text := e.rec.Result()
		if text == "" {
			return nil, nil
		}
		return e.emit(text, true), nil
	}

	partial := e.rec.PartialResult()
	if partial != "" && partial != e.lastPartial {
		e.lastPartial = partial
		return e.emit(partial, false), nil
	}
	return nil, nil
}

// Finalize flushes whatever audio is still buffered as one final segment and
// moves the engine to StateFinalized. Returns nil when only silence remains.
func (e *Engine) Finalize() (*Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateListening {
		return nil, ErrEngineFinalized
	}
	e.state = StateFinalized
	e.lastPartial = ""

	text, err := e.rec.FinalResult()
	if err != nil {
		return nil, &errorsx.RecognizerError{SessionID: e.sessionID, Err: err}
	}
	if text == "" {
		return nil, nil
	}
	return e.emit(text, true), nil
}

// Close releases the recognizer. It does not flush; call Finalize first.
func (e *Engine) Close() error {
	return e.rec.Close()
}

func (e *Engine) emit(text string, final bool) *Segment {
	e.seq++
	return &Segment{
		SessionID: e.sessionID,
		Text:      text,
		Final:     final,
		Seq:       e.seq,
		Offset:    e.offset(),
	}
}

func (e *Engine) offset() time.Duration {
	if e.sampleRate <= 0 {
		return 0
	}
	return time.Duration(e.samples) * time.Second / time.Duration(e.sampleRate)
}
