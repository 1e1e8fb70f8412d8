package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/config"
	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/stt"
)

func testConfig() *config.Config {
	return &config.Config{
		VADEnergyThreshold:  500,
		VADSilenceFrames:    10,
		MaxUtteranceSeconds: 30,
	}
}

func newTestRegistry() *Registry {
	factory := stt.NewVADFactory(testConfig(), stt.NewLevelTranscriber(nil, 500))
	return NewRegistry(factory, audio.TelephonySampleRate)
}

func constant(n int, value int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// mediaFrame encodes 20ms of constant audio the way the live channel sends it
func mediaFrame(t *testing.T, value int16) []byte {
	t.Helper()
	data, err := audio.EncodeMediaEnvelope(constant(160, value))
	if err != nil {
		t.Fatalf("EncodeMediaEnvelope failed: %v", err)
	}
	return data
}

func feedEnvelope(t *testing.T, sess *CallSession, data []byte) *stt.Segment {
	t.Helper()
	frame, err := audio.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	seg, err := sess.Feed(frame.Samples)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	return seg
}

func TestRegistry_StartMediaStop(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	start, err := audio.DecodeEnvelope([]byte(`{"event":"start"}`))
	if err != nil || start.Event != audio.EventStart {
		t.Fatalf("Expected start frame, got %+v, %v", start, err)
	}

	sess, created, err := r.GetOrCreate(ctx, "A1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Error("Expected a new session")
	}

	for _, level := range []int16{0, 2000, 2000} {
		if seg := feedEnvelope(t, sess, mediaFrame(t, level)); seg != nil && seg.Final {
			t.Errorf("Expected no final before stop, got %+v", seg)
		}
	}

	seg, closed, err := r.Close("A1")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if seg == nil || !seg.Final || seg.Text != "test" {
		t.Fatalf("Expected final segment 'test', got %+v", seg)
	}
	if closed.Transcript() != "test" {
		t.Errorf("Expected transcript 'test', got %q", closed.Transcript())
	}
	if closed.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", closed.State())
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d sessions", r.Len())
	}
	if _, err := r.Get("A1"); !errorsx.Is(err, errorsx.KindSessionLookup) {
		t.Errorf("Expected SessionLookupError, got %v", err)
	}
}

func TestRegistry_CloseSilenceOnly(t *testing.T) {
	r := newTestRegistry()
	sess, _, _ := r.GetOrCreate(context.Background(), "quiet")

	for i := 0; i < 5; i++ {
		feedEnvelope(t, sess, mediaFrame(t, 0))
	}

	seg, closed, err := r.Close("quiet")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if seg != nil {
		t.Errorf("Expected no final segment for silence, got %+v", seg)
	}
	if closed.Transcript() != "" {
		t.Errorf("Expected empty transcript, got %q", closed.Transcript())
	}
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, created, _ := r.GetOrCreate(ctx, "CA1")
	second, createdAgain, _ := r.GetOrCreate(ctx, "CA1")

	if !created || createdAgain {
		t.Errorf("Expected created=true then false, got %v then %v", created, createdAgain)
	}
	if first != second {
		t.Error("Expected the same session for the same id")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Len())
	}
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, _, _ := r.GetOrCreate(ctx, "A")
	b, _, _ := r.GetOrCreate(ctx, "B")

	// interleave: A speaks "test", B speaks "hello", then both go quiet
	for i := 0; i < 3; i++ {
		feedEnvelope(t, a, mediaFrame(t, 2000))
		feedEnvelope(t, b, mediaFrame(t, 6000))
	}
	var finals []*stt.Segment
	for i := 0; i < 10; i++ {
		if seg := feedEnvelope(t, b, mediaFrame(t, 0)); seg != nil && seg.Final {
			finals = append(finals, seg)
		}
		if seg := feedEnvelope(t, a, mediaFrame(t, 0)); seg != nil && seg.Final {
			finals = append(finals, seg)
		}
	}

	if len(finals) != 2 {
		t.Fatalf("Expected 2 finals, got %d", len(finals))
	}
	for _, seg := range finals {
		switch seg.SessionID {
		case "A":
			if seg.Text != "test" {
				t.Errorf("Expected A to say 'test', got %q", seg.Text)
			}
		case "B":
			if seg.Text != "hello" {
				t.Errorf("Expected B to say 'hello', got %q", seg.Text)
			}
		default:
			t.Errorf("Unexpected session %q", seg.SessionID)
		}
	}
}

func TestRegistry_FeedAfterClose(t *testing.T) {
	r := newTestRegistry()
	sess, _, _ := r.GetOrCreate(context.Background(), "CA1")
	r.Close("CA1")

	if _, err := sess.Feed(constant(160, 2000)); !errorsx.Is(err, errorsx.KindSessionLookup) {
		t.Errorf("Expected SessionLookupError after close, got %v", err)
	}
	if _, _, err := r.Close("CA1"); !errorsx.Is(err, errorsx.KindSessionLookup) {
		t.Errorf("Expected SessionLookupError on second close, got %v", err)
	}
}

type countingRecognizer struct {
	stt.Recognizer
	closed *int32
}

func (c *countingRecognizer) Close() error {
	atomic.AddInt32(c.closed, 1)
	return c.Recognizer.Close()
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	var built, closed int32
	inner := stt.NewVADFactory(testConfig(), stt.NewLevelTranscriber(nil, 500))
	factory := func(ctx context.Context, id string, rate int) (stt.Recognizer, error) {
		atomic.AddInt32(&built, 1)
		rec, err := inner(ctx, id, rate)
		if err != nil {
			return nil, err
		}
		return &countingRecognizer{Recognizer: rec, closed: &closed}, nil
	}
	r := NewRegistry(factory, audio.TelephonySampleRate)

	const workers = 20
	sessions := make([]*CallSession, workers)
	var created int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, isNew, err := r.GetOrCreate(context.Background(), "CA1")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			if isNew {
				atomic.AddInt32(&created, 1)
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly one creator, got %d", created)
	}
	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatal("Expected all callers to share one session")
		}
	}
	if got := atomic.LoadInt32(&built) - atomic.LoadInt32(&closed); got != 1 {
		t.Errorf("Expected losing recognizers closed, %d still open", got)
	}
}

func TestRegistry_ConcurrentFeeds(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	ids := []string{"c1", "c2", "c3", "c4"}
	levels := []int16{2000, 4000, 6000, 8000}
	words := []string{"test", "call", "hello", "world"}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(id string, level int16) {
			defer wg.Done()
			sess, _, err := r.GetOrCreate(ctx, id)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			for j := 0; j < 5; j++ {
				sess.Feed(constant(160, level))
			}
		}(id, levels[i])
	}
	wg.Wait()

	for i, id := range ids {
		_, sess, err := r.Close(id)
		if err != nil {
			t.Fatalf("Close %s failed: %v", id, err)
		}
		if sess.Transcript() != words[i] {
			t.Errorf("Expected %s to say %q, got %q", id, words[i], sess.Transcript())
		}
	}
}

type failingFactoryErr struct{}

func (failingFactoryErr) Error() string { return "backend unavailable" }

func TestRegistry_FactoryError(t *testing.T) {
	factory := func(ctx context.Context, id string, rate int) (stt.Recognizer, error) {
		return nil, failingFactoryErr{}
	}
	r := NewRegistry(factory, audio.TelephonySampleRate)

	_, _, err := r.GetOrCreate(context.Background(), "CA1")
	if !errorsx.Is(err, errorsx.KindRecognizer) {
		t.Errorf("Expected RecognizerError, got %v", err)
	}
	var target failingFactoryErr
	if !errors.As(err, &target) {
		t.Error("Expected factory error to be wrapped")
	}
	if r.Len() != 0 {
		t.Errorf("Expected no session after failure, got %d", r.Len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		r.GetOrCreate(ctx, id)
	}

	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("Expected sorted ids, got %v", ids)
	}
	if err := r.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", r.Len())
	}
}

func TestState_String(t *testing.T) {
	if StateListening.String() != "listening" || StateClosed.String() != "closed" {
		t.Errorf("Unexpected state names %s, %s", StateListening, StateClosed)
	}
}
