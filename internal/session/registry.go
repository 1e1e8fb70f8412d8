package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/stt"
)

// Registry maps call ids to live sessions. The map lock only guards
// inserts, removals and lookups; feeding audio happens on the session.
type Registry struct {
	factory    stt.Factory
	sampleRate int
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates a registry that builds one recognizer per session
// with factory, at sampleRate.
func NewRegistry(factory stt.Factory, sampleRate int) *Registry {
	return &Registry{
		factory:    factory,
		sampleRate: sampleRate,
		now:        time.Now,
		sessions:   make(map[string]*CallSession),
	}
}

// GetOrCreate returns the session for id, creating it if needed. The bool
// reports whether a new session was created. The recognizer is built
// outside the lock; if another caller wins the race the loser's recognizer
// is closed and the winner's session returned.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*CallSession, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("session id is required")
	}

	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return sess, false, nil
	}

	rec, err := r.factory(ctx, id, r.sampleRate)
	if err != nil {
		return nil, false, &errorsx.RecognizerError{SessionID: id, Err: err}
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Str("call_id", id).Msg("Failed to close duplicate recognizer")
		}
		return existing, false, nil
	}
	sess = newCallSession(id, stt.NewEngine(id, rec, r.sampleRate), r.now())
	r.sessions[id] = sess
	r.mu.Unlock()

	return sess, true, nil
}

// Get returns the session for id or *errorsx.SessionLookupError
func (r *Registry) Get(id string) (*CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, &errorsx.SessionLookupError{SessionID: id}
	}
	return sess, nil
}

// Close removes the session, flushes its engine and releases its
// recognizer. It returns the trailing final segment, if any, and the closed
// session so callers can read its transcript. An unknown id yields
// *errorsx.SessionLookupError.
func (r *Registry) Close(id string) (*stt.Segment, *CallSession, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, nil, &errorsx.SessionLookupError{SessionID: id}
	}

	seg, err := sess.finalize()
	return seg, sess, err
}

// CloseAll closes every open session, stopping early if ctx is done
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.IDs() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, _, err := r.Close(id); err != nil && !errorsx.Is(err, errorsx.KindSessionLookup) {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the open session ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
