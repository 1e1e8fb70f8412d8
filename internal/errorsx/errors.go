package errorsx

import (
	"errors"
	"fmt"
)

// Kind is a short machine-readable error class, used as a metrics label.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindDecode        Kind = "decode"
	KindRecognizer    Kind = "recognizer"
	KindDownload      Kind = "download"
	KindTranscription Kind = "transcription"
	KindSessionLookup Kind = "session_lookup"
)

// DecodeError reports a malformed frame or envelope. The unit is skipped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RecognizerError reports a recognizer failure on one frame.
type RecognizerError struct {
	SessionID string
	Err       error
}

func (e *RecognizerError) Error() string {
	return fmt.Sprintf("recognizer (session %s): %v", e.SessionID, e.Err)
}

func (e *RecognizerError) Unwrap() error { return e.Err }

// DownloadError reports a failed recording download. StatusCode is zero for
// transport failures.
type DownloadError struct {
	CallID     string
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download recording for call %s: unexpected status %d", e.CallID, e.StatusCode)
	}
	return fmt.Sprintf("download recording for call %s: %v", e.CallID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// TranscriptionError reports a failed offline transcription job.
type TranscriptionError struct {
	CallID string
	Path   string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe %s for call %s: %v", e.Path, e.CallID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// SessionLookupError reports an operation on an unknown or closed session.
type SessionLookupError struct {
	SessionID string
}

func (e *SessionLookupError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		decodeErr *DecodeError
		recErr    *RecognizerError
		dlErr     *DownloadError
		trErr     *TranscriptionError
		lookupErr *SessionLookupError
	)
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &recErr):
		return KindRecognizer
	case errors.As(err, &dlErr):
		return KindDownload
	case errors.As(err, &trErr):
		return KindTranscription
	case errors.As(err, &lookupErr):
		return KindSessionLookup
	}
	return KindUnknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
