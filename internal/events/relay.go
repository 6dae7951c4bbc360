package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the relay needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// Relay copies outbox rows to Kafka, one topic per event type, keyed by
// aggregate so events of one appointment stay ordered.
type Relay struct {
	source      Source
	writer      MessageWriter
	topicPrefix string
	batchSize   int
	log         zerolog.Logger
}

func NewRelay(source Source, writer MessageWriter, topicPrefix string, batchSize int, log zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:      source,
		writer:      writer,
		topicPrefix: strings.TrimSuffix(topicPrefix, "."),
		batchSize:   batchSize,
		log:         log,
	}
}

func (r *Relay) Topic(eventType string) string {
	if r.topicPrefix == "" {
		return eventType
	}
	return r.topicPrefix + "." + eventType
}

// RunOnce publishes a single batch and reports how many events went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.source.WithUnpublished(ctx, r.batchSize, func(batch []Stored) error {
		msgs := make([]kafka.Message, 0, len(batch))
		for _, ev := range batch {
			msgs = append(msgs, kafka.Message{
				Topic: r.Topic(ev.Type),
				Key:   []byte(ev.AggregateID.String()),
				Value: ev.Payload,
				Time:  ev.CreatedAt,
				Headers: []kafka.Header{
					{Key: "event_id", Value: []byte(ev.ID.String())},
					{Key: "event_type", Value: []byte(ev.Type)},
				},
			})
		}
		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write %d messages: %w", len(msgs), err)
		}
		published = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.log.Debug().Int("count", published).Msg("outbox batch published")
	}
	return published, nil
}
