package recording

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

// Transcriber turns a downloaded recording into a stored transcript
type Transcriber interface {
	Transcribe(ctx context.Context, path, callID string) (*transcript.Record, error)
}

// Archiver keeps a copy of a downloaded recording. It returns the object
// key, or "" when archiving is disabled.
type Archiver interface {
	Store(ctx context.Context, callID, path string) (string, error)
}

// Pipeline runs one job: download, optional archive, transcribe
type Pipeline struct {
	fetcher     *Fetcher
	archive     Archiver
	transcriber Transcriber
	now         func() time.Time
}

// NewPipeline creates a pipeline. archive may be nil.
func NewPipeline(fetcher *Fetcher, archive Archiver, transcriber Transcriber) *Pipeline {
	return &Pipeline{
		fetcher:     fetcher,
		archive:     archive,
		transcriber: transcriber,
		now:         time.Now,
	}
}

// Run drives job to done or failed. The downloaded file is removed on
// every path, and the transcriber is never called after a failed download.
func (p *Pipeline) Run(ctx context.Context, job *Job) error {
	logger := observability.JobLogger(job.ID, job.CallID)

	if err := p.transition(job, StatusDownloading, logger); err != nil {
		return err
	}

	path, err := p.fetcher.Fetch(ctx, job)
	if err != nil {
		return p.fail(job, err, logger)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to remove recording")
		}
	}()

	if p.archive != nil {
		key, err := p.archive.Store(ctx, job.CallID, path)
		if err != nil {
			// the archive copy is best effort; transcription goes on
			logger.Warn().Err(err).Msg("Failed to archive recording")
		} else if key != "" {
			job.setArchiveKey(key)
		}
	}

	if err := p.transition(job, StatusTranscribing, logger); err != nil {
		return err
	}

	rec, err := p.transcriber.Transcribe(ctx, path, job.CallID)
	if err != nil {
		return p.fail(job, err, logger)
	}
	job.setTranscript(rec.Text)

	return p.transition(job, StatusDone, logger)
}

func (p *Pipeline) transition(job *Job, to Status, logger zerolog.Logger) error {
	if err := job.Transition(to, p.now()); err != nil {
		logger.Error().Err(err).Msg("Job transition rejected")
		return err
	}
	observability.RecordJobTransition(string(to))
	logger.Debug().Str("status", string(to)).Msg("Job status changed")
	return nil
}

func (p *Pipeline) fail(job *Job, cause error, logger zerolog.Logger) error {
	if err := job.fail(cause, p.now()); err != nil {
		logger.Error().Err(err).Msg("Job transition rejected")
		return err
	}
	observability.RecordJobTransition(string(StatusFailed))
	logger.Error().Err(cause).Msg("Recording job failed")
	return cause
}
