package telephony

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/lexiqai/call-transcriber/internal/recording"
)

// TwilioConfig holds Twilio account settings
type TwilioConfig struct {
	AccountSID string
	AuthToken  string // also enables webhook signature checks
	PublicURL  string // base URL the webhooks were configured with
}

// TwilioAdapter speaks Twilio's form encoded webhooks and TwiML
type TwilioAdapter struct {
	cfg TwilioConfig
}

// NewTwilioAdapter creates a Twilio adapter
func NewTwilioAdapter(cfg TwilioConfig) *TwilioAdapter {
	return &TwilioAdapter{cfg: cfg}
}

// Name implements VendorAdapter
func (a *TwilioAdapter) Name() string {
	return "twilio"
}

// ResolveCallID returns the CallSid field
func (a *TwilioAdapter) ResolveCallID(r *http.Request) (string, error) {
	params, err := readParams(r)
	if err != nil {
		return "", err
	}
	if id := params["CallSid"]; id != "" {
		return id, nil
	}
	return "", fmt.Errorf("twilio webhook without CallSid")
}

// RenderVoiceStart answers with TwiML that forks the call audio to the
// stream endpoint and records the call.
func (a *TwilioAdapter) RenderVoiceStart(w http.ResponseWriter, r *http.Request, streamURL, recordingURL string) error {
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceStart{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: streamURL, Track: "inbound_track"},
			},
		},
		&twiml.VoiceSay{Message: "Hello! Your call is being recorded and will be transcribed."},
		&twiml.VoiceRecord{
			MaxLength:                    "3600",
			Timeout:                      "10",
			Trim:                         "trim-silence",
			RecordingStatusCallback:      recordingURL,
			RecordingStatusCallbackEvent: "completed",
		},
		&twiml.VoiceSay{Message: "Thank you for your call. Goodbye."},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		return fmt.Errorf("render twiml: %w", err)
	}
	return writeXML(w, doc)
}

// ParseRecording reads a recordingStatusCallback. The recording is fetched
// as WAV with the account credentials.
func (a *TwilioAdapter) ParseRecording(r *http.Request) (recording.Notification, error) {
	params, err := readParams(r)
	if err != nil {
		return recording.Notification{}, err
	}

	n := recording.Notification{
		CallID:       params["CallSid"],
		RecordingURL: params["RecordingUrl"],
		Vendor:       a.Name(),
		Duration:     params["RecordingDuration"],
		Credentials:  recording.Credentials{Username: a.cfg.AccountSID, Password: a.cfg.AuthToken},
	}
	if n.CallID == "" {
		n.CallID = params["RecordingSid"]
	}
	if n.CallID == "" || n.RecordingURL == "" {
		return n, fmt.Errorf("twilio recording webhook without CallSid or RecordingUrl")
	}
	if path.Ext(n.RecordingURL) == "" {
		n.RecordingURL += ".wav"
	}
	return n, nil
}

// RenderRecordingAck answers with an empty TwiML response
func (a *TwilioAdapter) RenderRecordingAck(w http.ResponseWriter) error {
	doc, err := twiml.Voice(nil)
	if err != nil {
		return fmt.Errorf("render twiml: %w", err)
	}
	return writeXML(w, doc)
}

// Verify checks X-Twilio-Signature. Without an auth token every request
// is accepted.
func (a *TwilioAdapter) Verify(r *http.Request) error {
	if a.cfg.AuthToken == "" {
		return nil
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return ErrInvalidSignature
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}

	validator := twilioclient.NewRequestValidator(a.cfg.AuthToken)
	if !validator.ValidateBody(requestURL(r, a.cfg.PublicURL), body, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// requestURL rebuilds the URL the vendor called, as it signed it
func requestURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + r.URL.RequestURI()
	}
	return baseURL(r, "https") + r.URL.RequestURI()
}

// baseURL returns scheme://host for the request, honoring proxy headers.
// scheme is the default when the request does not say.
func baseURL(r *http.Request, scheme string) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	} else if r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

func writeXML(w http.ResponseWriter, doc string) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(doc))
	return err
}
