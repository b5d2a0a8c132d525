package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one session event. A returned error leaves the message uncommitted.
type Handler func(ctx context.Context, event SessionEvent) error

// KafkaConsumer reads session events as part of a consumer group
type KafkaConsumer struct {
	reader  messageReader
	backoff time.Duration
}

// NewKafkaConsumer creates a group consumer for topic
func NewKafkaConsumer(broker, topic, groupID string) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return &KafkaConsumer{reader: reader, backoff: time.Second}
}

// Consume feeds events to handle until ctx is cancelled. Malformed messages are
// committed and skipped. A failing handler is retried after a backoff.
func (kc *KafkaConsumer) Consume(ctx context.Context, handle Handler) error {
	logrus.Info("Starting session event consumer")
	for {
		msg, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logrus.WithError(err).Error("Error reading session event")
			if !sleep(ctx, kc.backoff) {
				return nil
			}
			continue
		}

		var event SessionEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logrus.WithFields(logrus.Fields{"offset": msg.Offset, "error": err}).Warn("Skipping malformed session event")
			if err := kc.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("Failed to commit session event offset")
			}
			continue
		}

		for {
			err := handle(ctx, event)
			if err == nil {
				break
			}
			logrus.WithFields(logrus.Fields{"event_id": event.ID, "error": err}).Warn("Session event handler failed, retrying")
			if !sleep(ctx, kc.backoff) {
				return nil
			}
		}

		if err := kc.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Failed to commit session event offset")
		}
	}
}

// Close closes the reader
func (kc *KafkaConsumer) Close() error {
	if err := kc.reader.Close(); err != nil {
		return fmt.Errorf("failed to close session event reader: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
