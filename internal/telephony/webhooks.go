package telephony

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/recording"
)

// JobSubmitter starts a recording job
type JobSubmitter interface {
	Submit(n recording.Notification) *recording.Job
}

// Routes are the paths the vendor is told to call back on
type Routes struct {
	StreamPath    string // live audio websocket, e.g. /streams/twilio
	RecordingPath string // recording webhook, e.g. /recording/twilio
}

// WebhookHandler serves a vendor's voice and recording webhooks. Vendor
// responses never depend on transcription: apart from a failed signature
// check (403) the vendor always gets a 200.
type WebhookHandler struct {
	adapter   VendorAdapter
	jobs      JobSubmitter
	routes    Routes
	publicURL string
}

// NewWebhookHandler creates a handler. publicURL overrides the host derived
// from each request when building callback URLs.
func NewWebhookHandler(adapter VendorAdapter, jobs JobSubmitter, routes Routes, publicURL string) *WebhookHandler {
	return &WebhookHandler{
		adapter:   adapter,
		jobs:      jobs,
		routes:    routes,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Voice answers a call-start webhook with the vendor's instructions to
// stream and record the call
func (h *WebhookHandler) Voice(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}

	callID, err := h.adapter.ResolveCallID(r)
	logger := observability.CallLogger(callID, h.adapter.Name())
	if err != nil {
		logger.Warn().Err(err).Msg("Voice webhook without call id")
	}

	streamURL, recordingURL := h.callbackURLs(r)
	logger.Info().
		Str("stream_url", streamURL).
		Str("recording_url", recordingURL).
		Msg("Incoming call")

	if err := h.adapter.RenderVoiceStart(w, r, streamURL, recordingURL); err != nil {
		logger.Error().Err(err).Msg("Failed to render voice response")
		observability.RecordError("render", "webhook")
	}
}

// Recording submits a recording job for a finished recording and
// acknowledges the webhook
func (h *WebhookHandler) Recording(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}

	n, err := h.adapter.ParseRecording(r)
	logger := observability.CallLogger(n.CallID, h.adapter.Name())
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring recording webhook")
		observability.RecordError("parse", "webhook")
	} else {
		job := h.jobs.Submit(n)
		logger.Info().
			Str("job_id", job.ID).
			Str("duration", n.Duration).
			Msg("Recording completed")
	}

	if err := h.adapter.RenderRecordingAck(w); err != nil {
		logger.Error().Err(err).Msg("Failed to render recording ack")
	}
}

func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) bool {
	err := h.adapter.Verify(r)
	if err == nil {
		return true
	}

	logger := observability.GetLogger()
	logger.Warn().
		Err(err).
		Str("vendor", h.adapter.Name()).
		Str("path", r.URL.Path).
		Msg("Rejected webhook")
	observability.RecordError("signature", "webhook")

	if errors.Is(err, ErrInvalidSignature) {
		http.Error(w, "invalid signature", http.StatusForbidden)
	} else {
		http.Error(w, "bad request", http.StatusBadRequest)
	}
	return false
}

// callbackURLs builds the absolute stream and recording URLs for r
func (h *WebhookHandler) callbackURLs(r *http.Request) (string, string) {
	base := h.publicURL
	if base == "" {
		base = baseURL(r, "http")
	}

	wsBase := base
	switch {
	case strings.HasPrefix(base, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return wsBase + h.routes.StreamPath, base + h.routes.RecordingPath
}
