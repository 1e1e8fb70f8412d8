// Package recording fetches finished call recordings and hands them to the
// offline transcriber, tracking every job's status.
package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle status of a recording job
type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid job status transition")

var transitions = map[Status][]Status{
	StatusPending:      {StatusDownloading, StatusFailed},
	StatusDownloading:  {StatusTranscribing, StatusFailed},
	StatusTranscribing: {StatusDone, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Credentials authenticate the recording download. Empty credentials mean
// the URL is pre-signed.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no basic auth should be sent
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Notification is a recording-completed event resolved by a vendor adapter
type Notification struct {
	CallID       string
	RecordingURL string
	Credentials  Credentials
	Vendor       string
	Duration     string // as reported by the vendor, informational
}

// Job is one recording fetch and transcription. Its status is safe to read
// while the pipeline runs.
type Job struct {
	ID          string
	CallID      string
	URL         string
	Vendor      string
	Credentials Credentials
	SubmittedAt time.Time

	mu         sync.RWMutex
	status     Status
	err        error
	updatedAt  time.Time
	archiveKey string
	transcript string
}

// NewJob creates a pending job for n
func NewJob(id string, n Notification, now time.Time) *Job {
	return &Job{
		ID:          id,
		CallID:      n.CallID,
		URL:         n.RecordingURL,
		Vendor:      n.Vendor,
		Credentials: n.Credentials,
		SubmittedAt: now,
		status:      StatusPending,
		updatedAt:   now,
	}
}

// Transition moves the job to status to. It wraps ErrInvalidTransition when
// the lifecycle forbids the change.
func (j *Job) Transition(to Status, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	j.updatedAt = now
	return nil
}

// fail moves the job to failed and records err
func (j *Job) fail(err error, now time.Time) error {
	if terr := j.Transition(StatusFailed, now); terr != nil {
		return terr
	}
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	return nil
}

func (j *Job) setArchiveKey(key string) {
	j.mu.Lock()
	j.archiveKey = key
	j.mu.Unlock()
}

func (j *Job) setTranscript(text string) {
	j.mu.Lock()
	j.transcript = text
	j.mu.Unlock()
}

// Status returns the current status
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure cause of a failed job
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// JobInfo is a point-in-time view of a job, safe to serialize
type JobInfo struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	Vendor      string    `json:"vendor,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ArchiveKey  string    `json:"archive_key,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Info returns a snapshot of the job. Credentials are never included.
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := JobInfo{
		ID:          j.ID,
		CallID:      j.CallID,
		Vendor:      j.Vendor,
		Status:      j.status,
		ArchiveKey:  j.archiveKey,
		Transcript:  j.transcript,
		SubmittedAt: j.SubmittedAt,
		UpdatedAt:   j.updatedAt,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}
