package telephony

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestEnableXAdapter_ResolveCallID(t *testing.T) {
	a := NewEnableXAdapter(EnableXConfig{})

	tests := []struct {
		name    string
		req     *http.Request
		want    string
		wantErr bool
	}{
		{name: "call_id", req: jsonRequest("/voice", `{"call_id":"X1","from":"+1"}`), want: "X1"},
		{name: "uuid fallback", req: jsonRequest("/voice", `{"uuid":"U1"}`), want: "U1"},
		{name: "form body", req: formRequest("/voice", map[string]string{"call_id": "F1"}), want: "F1"},
		{name: "missing", req: jsonRequest("/voice", `{"from":"+1"}`), wantErr: true},
		{name: "bad json", req: jsonRequest("/voice", `{"call_id":`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ResolveCallID(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEnableXAdapter_RenderVoiceStart(t *testing.T) {
	a := NewEnableXAdapter(EnableXConfig{})
	w := httptest.NewRecorder()
	a.RenderVoiceStart(w, jsonRequest("/voice", `{}`), "wss://x/streams/enablex", "https://x/recording")

	var list ActionList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	types := make([]string, len(list.Action))
	for i, a := range list.Action {
		types[i] = a.Type
	}
	if strings.Join(types, ",") != "play,record,play,hangup" {
		t.Errorf("Expected play,record,play,hangup, got %v", types)
	}
	rec := list.Action[1]
	if rec.RecordingURL != "https://x/recording" || rec.Format != "wav" || rec.MaxDuration != 3600 {
		t.Errorf("Unexpected record action %+v", rec)
	}
}

func TestEnableXAdapter_ParseRecording(t *testing.T) {
	a := NewEnableXAdapter(EnableXConfig{AppID: "app", AppKey: "key"})

	n, err := a.ParseRecording(jsonRequest("/recording", `{"uuid":"U1","url":"https://enablex/r.wav","recording_duration":42}`))
	if err != nil {
		t.Fatalf("ParseRecording failed: %v", err)
	}
	if n.CallID != "U1" || n.RecordingURL != "https://enablex/r.wav" || n.Duration != "42" {
		t.Errorf("Unexpected notification %+v", n)
	}
	if n.Credentials.Username != "app" || n.Credentials.Password != "key" {
		t.Errorf("Expected app credentials, got %+v", n.Credentials)
	}

	n, err = a.ParseRecording(jsonRequest("/recording", `{"call_id":"C1","recording_url":"https://enablex/c.wav"}`))
	if err != nil || n.Duration != "0" {
		t.Errorf("Expected default duration 0, got %+v, %v", n, err)
	}

	if _, err := a.ParseRecording(jsonRequest("/recording", `{"call_id":"C1"}`)); err == nil {
		t.Error("Expected error without recording url")
	}
}

func TestEnableXAdapter_RecordingAck(t *testing.T) {
	w := httptest.NewRecorder()
	NewEnableXAdapter(EnableXConfig{}).RenderRecordingAck(w)

	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" || body["message"] != "Recording received" {
		t.Errorf("Unexpected ack %v", body)
	}
}
