// Package telephony connects call-control vendors to the transcription
// core: webhook adapters per vendor and the live audio stream handler.
package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/lexiqai/call-transcriber/internal/recording"
)

// ErrInvalidSignature is returned by Verify for a request that fails the
// vendor's authenticity check
var ErrInvalidSignature = errors.New("invalid webhook signature")

// maxWebhookBody caps how much of a webhook body is read
const maxWebhookBody = 1 << 20

// VendorAdapter is the per-vendor edge of the webhooks: how a vendor names
// its call, how it wants to be told to start streaming and recording, and
// how it reports a finished recording.
type VendorAdapter interface {
	// Name is the vendor's short name, used in routes, logs and metrics
	Name() string

	// ResolveCallID extracts the call id from a voice webhook
	ResolveCallID(r *http.Request) (string, error)

	// RenderVoiceStart writes the vendor's response to a voice webhook
	RenderVoiceStart(w http.ResponseWriter, r *http.Request, streamURL, recordingURL string) error

	// ParseRecording turns a recording webhook into a job notification
	ParseRecording(r *http.Request) (recording.Notification, error)

	// RenderRecordingAck acknowledges a recording webhook
	RenderRecordingAck(w http.ResponseWriter) error

	// Verify checks the request came from the vendor
	Verify(r *http.Request) error
}

// readBody reads the request body and puts it back so it can be read again
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// readParams returns the webhook fields from a JSON or form encoded body,
// falling back to the query string. JSON values are stringified.
func readParams(r *http.Request) (map[string]string, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" || (mediaType == "" && trimmed[0] == '{') {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err == nil {
			for k, v := range raw {
				if v != nil {
					params[k] = fmt.Sprint(v)
				}
			}
			return params, nil
		} else if mediaType == "application/json" {
			return nil, fmt.Errorf("parse json webhook: %w", err)
		}
	}

	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("parse form webhook: %w", err)
	}
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// firstParam returns the first non-empty value among keys
func firstParam(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params[k]); v != "" {
			return v
		}
	}
	return ""
}
