// Package server wires the HTTP surface: vendor webhooks, live audio
// websockets, job and transcript lookups, health and metrics.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/telephony"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

// Vendor facing routes
const (
	TwilioVoicePath     = "/voice/twilio"
	TwilioRecordingPath = "/recording/twilio"
	TwilioStreamPath    = "/streams/twilio"
	EnableXRecording    = "/recording"
	StreamPath          = "/stream"
)

// Handlers are the pieces the router serves. Nil vendor handlers leave
// their routes unregistered.
type Handlers struct {
	Twilio       *telephony.WebhookHandler
	EnableX      *telephony.WebhookHandler
	TwilioStream http.Handler
	Stream       http.Handler
	Jobs         JobLister
	Store        transcript.Store
	Info         observability.ServiceInfo
	Checks       map[string]observability.HealthCheckFunc
	Metrics      bool
}

// NewRouter builds the service's HTTP handler
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Twilio-Signature"},
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Call transcriber is running\n"))
	})
	r.Get("/health", observability.HealthCheckHandler(h.Info))
	r.Get("/ready", observability.ReadinessHandler(h.Checks))
	if h.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	if h.EnableX != nil {
		// EnableX is pointed at any of these depending on the app setup
		for _, path := range []string{"/voice", "/webhook", "/event"} {
			r.Get(path, h.EnableX.Voice)
			r.Post(path, h.EnableX.Voice)
		}
		r.Post(EnableXRecording, h.EnableX.Recording)
	}
	if h.Twilio != nil {
		r.Post(TwilioVoicePath, h.Twilio.Voice)
		r.Post(TwilioRecordingPath, h.Twilio.Recording)
	}
	if h.TwilioStream != nil {
		r.Get(TwilioStreamPath, h.TwilioStream.ServeHTTP)
	}
	if h.Stream != nil {
		r.Get(StreamPath, h.Stream.ServeHTTP)
	}

	if h.Jobs != nil {
		jobs := &jobHandler{jobs: h.Jobs}
		r.Get("/jobs", jobs.List)
		r.Get("/jobs/{id}", jobs.Get)
	}
	if h.Store != nil {
		transcripts := &transcriptHandler{store: h.Store}
		r.Get("/transcripts/{callID}", transcripts.Get)
	}

	return r
}

// requestLogger logs every request at debug, and failures at warn
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := observability.GetLogger()
		event := logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
