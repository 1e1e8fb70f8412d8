// Package offline transcribes finished call recordings.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/stt"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

// DefaultChunk is the amount of audio fed to the recognizer per read
const DefaultChunk = 500 * time.Millisecond

// Driver replays a WAV file through a dedicated recognizer and stores the
// joined final text.
type Driver struct {
	factory stt.Factory
	store   transcript.Store
	sink    transcript.Sink
	chunk   time.Duration
	now     func() time.Time
}

// NewDriver creates a driver. sink may be nil; chunk <= 0 uses DefaultChunk.
func NewDriver(factory stt.Factory, store transcript.Store, sink transcript.Sink, chunk time.Duration) *Driver {
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	return &Driver{
		factory: factory,
		store:   store,
		sink:    sink,
		chunk:   chunk,
		now:     time.Now,
	}
}

// ChunkFrames returns the frames read per chunk at sampleRate
func (d *Driver) ChunkFrames(sampleRate int) int {
	frames := int(int64(sampleRate) * int64(d.chunk) / int64(time.Second))
	if frames < 1 {
		return 1
	}
	return frames
}

// Transcribe runs the recording at path through a fresh recognizer and
// overwrites the stored transcript for callID. Any failure is returned as
// *errorsx.TranscriptionError and nothing is stored.
func (d *Driver) Transcribe(ctx context.Context, path, callID string) (*transcript.Record, error) {
	logger := observability.GetLogger().With().Str("call_id", callID).Logger()

	text, err := d.recognize(ctx, path, callID, logger)
	if err != nil {
		observability.RecordError(string(errorsx.KindTranscription), "offline")
		return nil, &errorsx.TranscriptionError{CallID: callID, Path: path, Err: err}
	}

	rec := transcript.Record{
		CallID:    callID,
		Text:      text,
		Source:    transcript.SourceRecording,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Put(ctx, rec); err != nil {
		observability.RecordError(string(errorsx.KindTranscription), "offline")
		return nil, &errorsx.TranscriptionError{CallID: callID, Path: path, Err: fmt.Errorf("store transcript: %w", err)}
	}

	logger.Info().
		Int("length", len(text)).
		Msg("Recording transcribed")
	return &rec, nil
}

func (d *Driver) recognize(ctx context.Context, path, callID string, logger zerolog.Logger) (string, error) {
	r, err := audio.OpenWAV(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	sampleRate := r.SampleRate()
	rec, err := d.factory(ctx, callID, sampleRate)
	if err != nil {
		return "", fmt.Errorf("create recognizer: %w", err)
	}
	engine := stt.NewEngine(callID, rec, sampleRate)
	defer engine.Close()

	logger.Debug().
		Int("sample_rate", sampleRate).
		Int("channels", r.Channels()).
		Int("chunk_frames", d.ChunkFrames(sampleRate)).
		Msg("Transcribing recording")

	var texts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		samples, err := r.ReadChunk(d.ChunkFrames(sampleRate))
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		seg, err := engine.Feed(samples)
		if err != nil {
			return "", err
		}
		if seg != nil && seg.Final {
			texts = append(texts, seg.Text)
			d.publish(ctx, *seg, logger)
		}
	}

	seg, err := engine.Finalize()
	if err != nil {
		return "", err
	}
	if seg != nil {
		texts = append(texts, seg.Text)
		d.publish(ctx, *seg, logger)
	}
	return strings.Join(texts, " "), nil
}

// publish forwards a final segment. Sink failures are logged only; the
// stored transcript is the durable result.
func (d *Driver) publish(ctx context.Context, seg stt.Segment, logger zerolog.Logger) {
	observability.RecordSegment("recording", true)
	if d.sink == nil {
		return
	}
	if err := d.sink.Publish(ctx, seg); err != nil {
		logger.Warn().Err(err).Int("seq", seg.Seq).Msg("Failed to publish recording segment")
	}
}
