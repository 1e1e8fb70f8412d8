package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/recording"
	"github.com/lexiqai/call-transcriber/internal/telephony"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

type fakeJobs struct {
	jobs map[string]*recording.Job
}

func newFakeJobs() *fakeJobs {
	job := recording.NewJob("job-1", recording.Notification{CallID: "CA1", RecordingURL: "https://r/1.wav", Vendor: "twilio"}, time.Now())
	return &fakeJobs{jobs: map[string]*recording.Job{job.ID: job}}
}

func (f *fakeJobs) Get(id string) (*recording.Job, bool) {
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeJobs) List() []recording.JobInfo {
	var out []recording.JobInfo
	for _, job := range f.jobs {
		out = append(out, job.Info())
	}
	return out
}

func (f *fakeJobs) Submit(n recording.Notification) *recording.Job {
	job := recording.NewJob("job-2", n, time.Now())
	f.jobs[job.ID] = job
	return job
}

func newTestRouter(t *testing.T) (http.Handler, *fakeJobs, transcript.Store) {
	t.Helper()
	store, err := transcript.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	jobs := newFakeJobs()

	twilio := telephony.NewWebhookHandler(
		telephony.NewTwilioAdapter(telephony.TwilioConfig{}),
		jobs,
		telephony.Routes{StreamPath: TwilioStreamPath, RecordingPath: TwilioRecordingPath},
		"",
	)
	enablex := telephony.NewWebhookHandler(
		telephony.NewEnableXAdapter(telephony.EnableXConfig{}),
		jobs,
		telephony.Routes{StreamPath: StreamPath, RecordingPath: EnableXRecording},
		"",
	)

	router := NewRouter(Handlers{
		Twilio:  twilio,
		EnableX: enablex,
		Jobs:    jobs,
		Store:   store,
		Info:    observability.ServiceInfo{STTBackend: "mock", Vendors: map[string]bool{"twilio": false, "enablex": false}},
		Checks: map[string]observability.HealthCheckFunc{
			"store": func(ctx context.Context) error { return nil },
		},
		Metrics: true,
	})
	return router, jobs, store
}

func serve(router http.Handler, method, target, body, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var status observability.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if status.STTBackend != "mock" {
		t.Errorf("Expected stt backend 'mock', got '%s'", status.STTBackend)
	}

	if w := serve(router, http.MethodGet, "/ready", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected ready 200, got %d", w.Code)
	}
	if w := serve(router, http.MethodGet, "/metrics", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected metrics 200, got %d", w.Code)
	}
	if w := serve(router, http.MethodGet, "/", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected index 200, got %d", w.Code)
	}
}

func TestRouter_Jobs(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/jobs", "", "")
	var list []recording.JobInfo
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(list) != 1 || list[0].CallID != "CA1" {
		t.Errorf("Expected one job for CA1, got %+v", list)
	}

	w = serve(router, http.MethodGet, "/jobs/job-1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("Expected no credentials in job info, got %s", w.Body.String())
	}

	if w := serve(router, http.MethodGet, "/jobs/unknown", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRouter_Transcripts(t *testing.T) {
	router, _, store := newTestRouter(t)

	if w := serve(router, http.MethodGet, "/transcripts/CA9", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	rec := transcript.Record{CallID: "CA9", Text: "test hello", Source: transcript.SourceRecording, CreatedAt: time.Now().UTC()}
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	w := serve(router, http.MethodGet, "/transcripts/CA9", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got transcript.Record
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Text != "test hello" {
		t.Errorf("Expected 'test hello', got %q", got.Text)
	}
}

func TestRouter_VendorWebhooks(t *testing.T) {
	router, jobs, _ := newTestRouter(t)

	w := serve(router, http.MethodPost, TwilioVoicePath, "CallSid=CA1", "application/x-www-form-urlencoded")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Stream") {
		t.Errorf("Expected TwiML stream response, got %d %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/voice", "/webhook", "/event"} {
		w := serve(router, http.MethodPost, path, `{"call_id":"X1"}`, "application/json")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"record"`) {
			t.Errorf("Expected action list on %s, got %d %s", path, w.Code, w.Body.String())
		}
	}

	w = serve(router, http.MethodPost, EnableXRecording, `{"call_id":"X1","recording_url":"https://enablex/x.wav"}`, "application/json")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if _, ok := jobs.Get("job-2"); !ok {
		t.Error("Expected a submitted job")
	}
}

type brokenStore struct{}

func (brokenStore) Put(ctx context.Context, rec transcript.Record) error { return errors.New("disk full") }
func (brokenStore) Get(ctx context.Context, callID string) (transcript.Record, error) {
	return transcript.Record{}, errors.New("disk unreadable")
}
func (brokenStore) Close() error { return nil }

func TestTranscriptHandler_StoreError(t *testing.T) {
	h := &transcriptHandler{store: brokenStore{}}
	r := chi.NewRouter()
	r.Get("/transcripts/{callID}", h.Get)

	w := serve(r, http.MethodGet, "/transcripts/CA1", "", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}
