package recording

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	paths   []string
	existed []bool
	err     error
	delay   time.Duration

	running    int
	maxRunning int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path, callID string) (*transcript.Record, error) {
	f.mu.Lock()
	f.calls++
	f.paths = append(f.paths, path)
	_, statErr := os.Stat(path)
	f.existed = append(f.existed, statErr == nil)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	if f.err != nil {
		return nil, &errorsx.TranscriptionError{CallID: callID, Path: path, Err: f.err}
	}
	return &transcript.Record{CallID: callID, Text: "test hello"}, nil
}

type fakeArchive struct {
	key string
	err error
}

func (f *fakeArchive) Store(ctx context.Context, callID, path string) (string, error) {
	return f.key, f.err
}

func recordingServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.wav" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("RIFF"))
	}))
}

func TestPipeline_Success(t *testing.T) {
	server := recordingServer()
	defer server.Close()

	tr := &fakeTranscriber{}
	p := NewPipeline(NewFetcher(server.Client(), t.TempDir(), 0), &fakeArchive{key: "recordings/CA1/1.wav"}, tr)
	job := NewJob("j1", Notification{CallID: "CA1", RecordingURL: server.URL + "/ok.wav"}, time.Now())

	if err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status() != StatusDone {
		t.Errorf("Expected done, got %s", job.Status())
	}
	if tr.calls != 1 || !tr.existed[0] {
		t.Fatalf("Expected one call with the downloaded file present, got %d calls", tr.calls)
	}
	if _, err := os.Stat(tr.paths[0]); !os.IsNotExist(err) {
		t.Errorf("Expected temp file removed, got %v", err)
	}

	info := job.Info()
	if info.ArchiveKey != "recordings/CA1/1.wav" || info.Transcript != "test hello" {
		t.Errorf("Unexpected job info %+v", info)
	}
}

func TestPipeline_DownloadFailureSkipsTranscriber(t *testing.T) {
	server := recordingServer()
	defer server.Close()

	tr := &fakeTranscriber{}
	p := NewPipeline(NewFetcher(server.Client(), t.TempDir(), 0), nil, tr)
	job := NewJob("j1", Notification{CallID: "CA1", RecordingURL: server.URL + "/missing.wav"}, time.Now())

	err := p.Run(context.Background(), job)
	if !errorsx.Is(err, errorsx.KindDownload) {
		t.Errorf("Expected DownloadError, got %v", err)
	}
	if job.Status() != StatusFailed {
		t.Errorf("Expected failed, got %s", job.Status())
	}
	if tr.calls != 0 {
		t.Errorf("Expected zero transcriber calls, got %d", tr.calls)
	}
}

func TestPipeline_TranscriptionFailureRemovesFile(t *testing.T) {
	server := recordingServer()
	defer server.Close()

	dir := t.TempDir()
	tr := &fakeTranscriber{err: errors.New("bad wav")}
	p := NewPipeline(NewFetcher(server.Client(), dir, 0), nil, tr)
	job := NewJob("j1", Notification{CallID: "CA1", RecordingURL: server.URL + "/ok.wav"}, time.Now())

	err := p.Run(context.Background(), job)
	if !errorsx.Is(err, errorsx.KindTranscription) {
		t.Errorf("Expected TranscriptionError, got %v", err)
	}
	if job.Status() != StatusFailed || job.Err() == nil {
		t.Errorf("Expected failed job with cause, got %s, %v", job.Status(), job.Err())
	}
	if n := tempEntries(t, dir); n != 0 {
		t.Errorf("Expected temp file removed, got %d entries", n)
	}
}

func TestPipeline_ArchiveFailureIsNotFatal(t *testing.T) {
	server := recordingServer()
	defer server.Close()

	tr := &fakeTranscriber{}
	p := NewPipeline(NewFetcher(server.Client(), t.TempDir(), 0), &fakeArchive{err: errors.New("bucket gone")}, tr)
	job := NewJob("j1", Notification{CallID: "CA1", RecordingURL: server.URL + "/ok.wav"}, time.Now())

	if err := p.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status() != StatusDone {
		t.Errorf("Expected done, got %s", job.Status())
	}
}

func TestPipeline_RejectsRerun(t *testing.T) {
	server := recordingServer()
	defer server.Close()

	p := NewPipeline(NewFetcher(server.Client(), t.TempDir(), 0), nil, &fakeTranscriber{})
	job := NewJob("j1", Notification{CallID: "CA1", RecordingURL: server.URL + "/ok.wav"}, time.Now())
	p.Run(context.Background(), job)

	if err := p.Run(context.Background(), job); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}
