// Package session owns the live call sessions: one recognizer per call id,
// created on first use and finalized when the call ends.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/stt"
)

// State is the lifecycle state of a CallSession
type State int

const (
	StateListening State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CallSession is the live recognition state of one call. Feeds on one
// session are serialized; different sessions never share a lock.
type CallSession struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	engine   *stt.Engine
	state    State
	segments []stt.Segment // finals only
}

func newCallSession(id string, engine *stt.Engine, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		CreatedAt: now,
		engine:    engine,
		state:     StateListening,
	}
}

// Feed pushes one frame of samples into the session's engine. It returns the
// segment the frame produced, if any. A recognizer failure is returned as
// *errorsx.RecognizerError and the session stays usable.
func (s *CallSession) Feed(samples []int16) (*stt.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		return nil, &errorsx.SessionLookupError{SessionID: s.ID}
	}

	seg, err := s.engine.Feed(samples)
	if err != nil {
		return nil, err
	}
	if seg != nil && seg.Final {
		s.segments = append(s.segments, *seg)
	}
	return seg, nil
}

// finalize flushes the engine, releases the recognizer and marks the
// session closed. The recognizer is released even when the flush fails.
func (s *CallSession) finalize() (*stt.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, &errorsx.SessionLookupError{SessionID: s.ID}
	}
	s.state = StateClosed

	seg, err := s.engine.Finalize()
	if seg != nil {
		s.segments = append(s.segments, *seg)
	}
	if cerr := s.engine.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("release recognizer: %w", cerr)
	}
	return seg, err
}

// State returns the session's lifecycle state
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Segments returns a copy of the final segments emitted so far
func (s *CallSession) Segments() []stt.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]stt.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Transcript joins the final segment texts with a single space
func (s *CallSession) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, " ")
}
