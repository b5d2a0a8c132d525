package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/metrics"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the publish queue cannot take another event
var ErrQueueFull = errors.New("session event queue full, event dropped")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes session events from a bounded queue drained by a worker pool
type KafkaProducer struct {
	writer       messageWriter
	topic        string
	queue        chan SessionEvent
	workerCount  int
	writeTimeout time.Duration
	shutdownChan chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// NewKafkaProducer creates a producer for topic on broker and starts its workers
func NewKafkaProducer(broker, topic string) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
	return newProducer(writer, topic, 1000, 4)
}

func newProducer(w messageWriter, topic string, queueSize, workers int) *KafkaProducer {
	kp := &KafkaProducer{
		writer:       w,
		topic:        topic,
		queue:        make(chan SessionEvent, queueSize),
		workerCount:  workers,
		writeTimeout: 5 * time.Second,
		shutdownChan: make(chan struct{}),
	}
	for i := 0; i < kp.workerCount; i++ {
		kp.wg.Add(1)
		go kp.worker(i)
	}
	logrus.WithFields(logrus.Fields{"topic": topic, "workers": workers}).Info("Started session event workers")
	return kp
}

// Publish queues event without blocking. A full queue drops the event.
func (kp *KafkaProducer) Publish(_ context.Context, event SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	select {
	case <-kp.shutdownChan:
		return errors.New("session event producer closed")
	default:
	}
	select {
	case kp.queue <- event:
		return nil
	default:
		metrics.Session.EventsDropped.Inc()
		return ErrQueueFull
	}
}

func (kp *KafkaProducer) worker(id int) {
	defer kp.wg.Done()
	for {
		select {
		case event := <-kp.queue:
			kp.deliver(id, event)
		case <-kp.shutdownChan:
			// drain what is already queued
			for {
				select {
				case event := <-kp.queue:
					kp.deliver(id, event)
				default:
					return
				}
			}
		}
	}
}

func (kp *KafkaProducer) deliver(worker int, event SessionEvent) {
	if err := kp.write(event); err != nil {
		logrus.WithFields(logrus.Fields{
			"worker":     worker,
			"event_id":   event.ID,
			"event_type": event.Type,
			"tenant_id":  event.TenantID,
			"error":      err,
		}).Error("Failed to publish session event")
	}
}

func (kp *KafkaProducer) write(event SessionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TenantID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: []byte(event.TenantID.String())},
			{Key: "tenant_slug", Value: []byte(event.TenantSlug)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), kp.writeTimeout)
	defer cancel()

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write session event to Kafka: %w", err)
	}
	return nil
}

// Close stops accepting events, flushes the queue and closes the writer
func (kp *KafkaProducer) Close() error {
	var err error
	kp.closeOnce.Do(func() {
		close(kp.shutdownChan)
		kp.wg.Wait()
		if cerr := kp.writer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close Kafka writer: %w", cerr)
		}
		logrus.Info("Session event producer shut down")
	})
	return err
}
