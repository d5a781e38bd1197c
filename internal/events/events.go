// Package events announces publications on a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/models"
)

// TypePublished marks a publication attempt.
const TypePublished = "child_deaths.published"

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message value.
type Event struct {
	Type        string             `json:"type"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Publication models.Publication `json:"publication"`
}

// Emitter writes one message per publication.
type Emitter struct {
	w   MessageWriter
	log *slog.Logger
}

// NewWriter returns a synchronous writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
	}
}

// New wraps w.
func New(w MessageWriter, log *slog.Logger) *Emitter {
	if log == nil {
		log = logger.Discard()
	}
	return &Emitter{w: w, log: log}
}

// Message builds the Kafka message for pub. The key is the publication ID.
func Message(pub models.Publication, now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(Event{Type: TypePublished, OccurredAt: now.UTC(), Publication: pub})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(pub.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypePublished)},
			{Key: "run_id", Value: []byte(pub.RunID)},
		},
		Time: now.UTC(),
	}, nil
}

// Published emits the event for pub.
func (e *Emitter) Published(ctx context.Context, pub models.Publication) error {
	msg, err := Message(pub, time.Now())
	if err != nil {
		return err
	}
	if err := e.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.log.Debug("publication event written", slog.String("id", pub.ID))
	return nil
}

// Close closes the underlying writer.
func (e *Emitter) Close() error {
	return e.w.Close()
}
