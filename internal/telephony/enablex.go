package telephony

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lexiqai/call-transcriber/internal/recording"
)

// EnableXConfig holds EnableX application credentials
type EnableXConfig struct {
	AppID  string
	AppKey string
}

// EnableXAdapter speaks EnableX's JSON webhooks and action lists. EnableX
// calls are transcribed from their recording only.
type EnableXAdapter struct {
	cfg EnableXConfig
}

// NewEnableXAdapter creates an EnableX adapter
func NewEnableXAdapter(cfg EnableXConfig) *EnableXAdapter {
	return &EnableXAdapter{cfg: cfg}
}

// Name implements VendorAdapter
func (a *EnableXAdapter) Name() string {
	return "enablex"
}

// ResolveCallID returns call_id, or uuid when call_id is absent
func (a *EnableXAdapter) ResolveCallID(r *http.Request) (string, error) {
	params, err := readParams(r)
	if err != nil {
		return "", err
	}
	if id := firstParam(params, "call_id", "uuid"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("enablex webhook without call_id or uuid")
}

// Action is one step of an EnableX action list
type Action struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Language     string `json:"language,omitempty"`
	MaxDuration  int    `json:"max_duration,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
	TrimSilence  bool   `json:"trim_silence,omitempty"`
	Format       string `json:"format,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

// ActionList is the body of a voice webhook response
type ActionList struct {
	Action []Action `json:"action"`
}

// RenderVoiceStart answers with play, record, play, hangup. streamURL is
// not used.
func (a *EnableXAdapter) RenderVoiceStart(w http.ResponseWriter, r *http.Request, streamURL, recordingURL string) error {
	return writeJSON(w, ActionList{Action: []Action{
		{Type: "play", Text: "Hello! Your call is being recorded and will be transcribed.", Voice: "female", Language: "en-US"},
		{Type: "record", MaxDuration: 3600, Timeout: 10, TrimSilence: true, Format: "wav", RecordingURL: recordingURL},
		{Type: "play", Text: "Thank you for your call. Goodbye.", Voice: "female", Language: "en-US"},
		{Type: "hangup"},
	}})
}

// ParseRecording reads a recording webhook. The recording is fetched with
// the app id and key as basic auth.
func (a *EnableXAdapter) ParseRecording(r *http.Request) (recording.Notification, error) {
	params, err := readParams(r)
	if err != nil {
		return recording.Notification{}, err
	}

	n := recording.Notification{
		CallID:       firstParam(params, "call_id", "uuid"),
		RecordingURL: firstParam(params, "recording_url", "url"),
		Vendor:       a.Name(),
		Duration:     firstParam(params, "duration", "recording_duration"),
		Credentials:  recording.Credentials{Username: a.cfg.AppID, Password: a.cfg.AppKey},
	}
	if n.Duration == "" {
		n.Duration = "0"
	}
	if n.CallID == "" || n.RecordingURL == "" {
		return n, fmt.Errorf("enablex recording webhook without call id or recording url")
	}
	return n, nil
}

// RenderRecordingAck answers with a JSON status
func (a *EnableXAdapter) RenderRecordingAck(w http.ResponseWriter) error {
	return writeJSON(w, map[string]string{"status": "ok", "message": "Recording received"})
}

// Verify accepts every request; EnableX webhooks are not signed
func (a *EnableXAdapter) Verify(r *http.Request) error {
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(v)
}
