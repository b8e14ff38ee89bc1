// Package events publishes authentication activity to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per activity, keyed by account so
// an account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher returns nil when no brokers are configured; a nil
// publisher is a no-op. The writer is asynchronous: Publish only enqueues, and
// delivery failures are logged from the completion callback.
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"topic":         topic,
					"message_count": len(messages),
				}).Warn("Kafka delivery failed")
			}
		},
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, activity *models.Activity) error {
	if p == nil || p.writer == nil || activity == nil {
		return nil
	}

	payload, err := json.Marshal(activity)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(activity.AccountID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(activity.Action)},
		},
	})
	if err != nil {
		p.logger.WithError(err).WithField("topic", p.topic).Warn("Kafka publish failed")
		return err
	}
	return nil
}

// Close flushes pending messages. Safe on a nil publisher.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
