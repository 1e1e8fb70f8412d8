package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/stt"
)

// Sink receives transcript segments as soon as they are ready
type Sink interface {
	Publish(ctx context.Context, seg stt.Segment) error
}

// LogSink writes segments to the structured log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink over logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs finals at info and partials at debug
func (s *LogSink) Publish(ctx context.Context, seg stt.Segment) error {
	ev := s.logger.Debug()
	msg := "Partial transcript"
	if seg.Final {
		ev = s.logger.Info()
		msg = "Transcript"
	}
	ev.Str("call_id", seg.SessionID).
		Int("seq", seg.Seq).
		Dur("offset", seg.Offset).
		Str("text", seg.Text).
		Msg(msg)
	return nil
}

// NamedSink labels a sink for metrics
type NamedSink struct {
	Name string
	Sink Sink
}

// Fanout publishes every segment to all sinks
type Fanout struct {
	sinks []NamedSink
}

// NewFanout creates a fan-out over sinks
func NewFanout(sinks ...NamedSink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish attempts every sink and returns the first error
func (f *Fanout) Publish(ctx context.Context, seg stt.Segment) error {
	var first error
	for _, s := range f.sinks {
		err := s.Sink.Publish(ctx, seg)
		observability.RecordSinkPublish(s.Name, err == nil)
		if err != nil && first == nil {
			first = fmt.Errorf("sink %s: %w", s.Name, err)
		}
	}
	return first
}

// Close closes every sink that has a Close method
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.Sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
