package audio

import (
	"encoding/base64"
	"encoding/json"

	"github.com/lexiqai/call-transcriber/internal/errorsx"
)

// EventType is the kind of unit carried by a live-channel envelope
type EventType string

const (
	EventStart   EventType = "start"
	EventMedia   EventType = "media"
	EventStop    EventType = "stop"
	EventIgnored EventType = "ignored"
)

// Envelope is one JSON message on the live audio channel (Twilio Media
// Streams shape; only event and media.payload are required).
type Envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// StartPayload describes the stream on a start event
type StartPayload struct {
	AccountSid       string                 `json:"accountSid"`
	CallSid          string                 `json:"callSid"`
	StreamSid        string                 `json:"streamSid"`
	Tracks           []string               `json:"tracks"`
	CustomParameters map[string]interface{} `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat           `json:"mediaFormat,omitempty"`
}

// MediaFormat is informational; the channel is fixed to 8kHz mono μ-law
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 encoded audio unit
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"` // sequence of the chunk, not audio
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload identifies the stream on a stop event
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// Frame is a decoded envelope. Samples are set only for media events.
type Frame struct {
	Event   EventType
	CallID  string // from start/stop payloads when the source provides one
	RawType string // original event tag for ignored events
	Samples []int16
}

// DecodeEnvelope turns one live-channel message into a Frame.
// Malformed input yields *errorsx.DecodeError; unknown events are not errors.
func DecodeEnvelope(data []byte) (*Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &errorsx.DecodeError{Reason: "unparsable envelope", Err: err}
	}

	switch env.Event {
	case "":
		return nil, &errorsx.DecodeError{Reason: "missing event"}

	case string(EventStart):
		frame := &Frame{Event: EventStart}
		if env.Start != nil {
			frame.CallID = firstNonEmpty(env.Start.CallSid, env.Start.StreamSid)
		}
		if frame.CallID == "" {
			frame.CallID = env.StreamSid
		}
		return frame, nil

	case string(EventMedia):
		samples, err := decodeMedia(env.Media)
		if err != nil {
			return nil, err
		}
		return &Frame{Event: EventMedia, Samples: samples}, nil

	case string(EventStop):
		frame := &Frame{Event: EventStop}
		if env.Stop != nil {
			frame.CallID = env.Stop.CallSid
		}
		return frame, nil

	default:
		return &Frame{Event: EventIgnored, RawType: env.Event}, nil
	}
}

func decodeMedia(media *MediaPayload) ([]int16, error) {
	if media == nil {
		return nil, &errorsx.DecodeError{Reason: "media event without media"}
	}
	if media.Payload == "" {
		return nil, &errorsx.DecodeError{Reason: "media event without payload"}
	}

	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return nil, &errorsx.DecodeError{Reason: "invalid base64 payload", Err: err}
	}

	samples, err := DecodeMulaw(raw)
	if err != nil {
		return nil, &errorsx.DecodeError{Reason: "invalid audio payload", Err: err}
	}
	return samples, nil
}

// EncodeMediaEnvelope builds a media envelope for PCM samples. Used by
// clients replaying audio into the channel.
func EncodeMediaEnvelope(samples []int16) ([]byte, error) {
	return json.Marshal(Envelope{
		Event: string(EventMedia),
		Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(EncodeMulaw(samples))},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
