package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Source tells where a transcript came from
type Source string

const (
	SourceLive      Source = "live"
	SourceRecording Source = "recording"
)

// Record is the flat persisted transcript of one call
type Record struct {
	CallID    string    `json:"call_id"`
	Text      string    `json:"text"`
	Source    Source    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	callIDPrefix = "Call ID: "
	textPrefix   = "Transcription: "
)

// Format renders rec in the two-line text format:
//
//	Call ID: <id>
//	Transcription: <text>
func Format(rec Record) string {
	return callIDPrefix + oneLine(rec.CallID) + "\n" + textPrefix + oneLine(rec.Text) + "\n"
}

// Parse reads the two-line text format written by Format. Lines have no
// length limit.
func Parse(data string) (Record, error) {
	var rec Record
	if data == "" {
		return rec, fmt.Errorf("transcript record is empty")
	}
	lines := strings.SplitN(data, "\n", 3)

	line := strings.TrimSuffix(lines[0], "\r")
	if !strings.HasPrefix(line, callIDPrefix) {
		return rec, fmt.Errorf("transcript record: expected %q line, got %q", strings.TrimSpace(callIDPrefix), line)
	}
	rec.CallID = strings.TrimPrefix(line, callIDPrefix)

	if len(lines) < 2 || (len(lines) == 2 && lines[1] == "") {
		return rec, fmt.Errorf("transcript record for %s: missing transcription line", rec.CallID)
	}
	line = strings.TrimSuffix(lines[1], "\r")
	switch {
	case strings.HasPrefix(line, textPrefix):
		rec.Text = strings.TrimPrefix(line, textPrefix)
	case line == strings.TrimSpace(textPrefix):
		// an empty transcription may have lost its trailing space
	default:
		return rec, fmt.Errorf("transcript record for %s: expected transcription line, got %q", rec.CallID, line)
	}
	return rec, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
