// Package events publishes transcript segments to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/resilience"
	"github.com/lexiqai/call-transcriber/internal/stt"
)

// TranscriptEvent is the message value written for every segment
type TranscriptEvent struct {
	CallID    string    `json:"call_id"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Seq       int       `json:"seq"`
	OffsetMs  int64     `json:"offset_ms"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Source       string // live or recording, copied into every event
	Enabled      bool
	Retry        *resilience.RetryConfig
}

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes partial and final segments to separate topics, keyed by
// call id so one call's segments stay ordered within a partition. When
// disabled it only logs.
type Publisher struct {
	writerPartial messageWriter
	writerFinal   messageWriter
	topicPartial  string
	topicFinal    string
	source        string
	enabled       bool
	retry         *resilience.RetryConfig
	now           func() time.Time
}

// New creates a publisher. A nil config, Enabled=false or no brokers yields
// a log-only publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{now: time.Now}
	}

	p := &Publisher{
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		source:       cfg.Source,
		retry:        cfg.Retry,
		now:          time.Now,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerPartial = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic_partial", cfg.TopicPartial).
		Str("topic_final", cfg.TopicFinal).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether segments are written to Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Publish writes seg to the partial or final topic
func (p *Publisher) Publish(ctx context.Context, seg stt.Segment) error {
	writer, topic, kind := p.writerPartial, p.topicPartial, "partial"
	if seg.Final {
		writer, topic, kind = p.writerFinal, p.topicFinal, "final"
	}

	payload, err := json.Marshal(TranscriptEvent{
		CallID:    seg.SessionID,
		Text:      seg.Text,
		Final:     seg.Final,
		Seq:       seg.Seq,
		OffsetMs:  seg.Offset.Milliseconds(),
		Source:    p.source,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}

	log.Debug().
		Str("topic", topic).
		Str("key", seg.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing transcript event")

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(seg.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(kind)},
		},
	}

	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return writer.WriteMessages(ctx, msg)
	}, p.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", seg.SessionID).
			Msg("Failed to write to Kafka")
		observability.RecordError("kafka_write", "events")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes both writers
func (p *Publisher) Close() error {
	var err error
	for _, w := range []messageWriter{p.writerPartial, p.writerFinal} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
