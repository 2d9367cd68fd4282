package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/events"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/observability"
)

const batchSize = 100

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// Outbox is the queue of admitted events awaiting delivery.
type Outbox interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, txHash, eventKind string) error
	MarkEventAsFailed(ctx context.Context, txHash, eventKind string) error
}

type Config struct {
	Topic             string
	NotificationTopic string
	Interval          time.Duration
}

type EventPublisher struct {
	config   Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	producer Producer
	outbox   Outbox
	now      func() time.Time
	mu       sync.Mutex // Protects concurrent access to publishing operations
}

func NewEventPublisher(kafkaBroker string, config Config, outbox Outbox, logger *zap.Logger, metrics *observability.Metrics) (*EventPublisher, error) {
	// Setup Kafka producer
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newEventPublisher(config, producer, outbox, logger, metrics), nil
}

func newEventPublisher(config Config, producer Producer, outbox Outbox, logger *zap.Logger, metrics *observability.Metrics) *EventPublisher {
	if config.Interval <= 0 {
		config.Interval = 3 * time.Second
	}
	return &EventPublisher{
		config:   config,
		logger:   logger,
		metrics:  metrics,
		producer: producer,
		outbox:   outbox,
		now:      time.Now,
	}
}

// StartPublishing drains the outbox on every tick until ctx is cancelled.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ep.logger.Info("Starting event publisher", zap.String("topic", ep.config.Topic), zap.Duration("interval", ep.config.Interval))

	ticker := time.NewTicker(ep.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info("Event publisher stopped")
			return
		case <-ticker.C:
			if _, err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents publishes one batch and returns how many events were delivered.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) (int, error) {
	// Use mutex to ensure only one publishing operation at a time per instance
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(ctx, event); err != nil {
			ep.metrics.OutboxEvents.WithLabelValues("failed").Inc()
			ep.logger.Error("Failed to publish event to Kafka", zap.String("tx_hash", event.TxHash), zap.String("event_kind", event.EventKind), zap.Error(err))
			// Mark as failed (returns status to 'unsent' for retry)
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.TxHash, event.EventKind); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("tx_hash", event.TxHash), zap.String("event_kind", event.EventKind), zap.Error(markErr))
			}
			continue
		}

		ep.metrics.OutboxEvents.WithLabelValues("sent").Inc()
		if err := ep.outbox.MarkEventAsSent(ctx, event.TxHash, event.EventKind); err != nil {
			// Published but still 'processing'; the next startup re-queues it and consumers see a duplicate.
			ep.logger.Error("Failed to mark event as sent", zap.String("tx_hash", event.TxHash), zap.String("event_kind", event.EventKind), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return successCount, nil
}

func (ep *EventPublisher) publishEventToKafka(ctx context.Context, event model.OutboxEvent) error {
	kafkaMsg := events.FeedEvent{
		EventKind:     event.EventKind,
		TxHash:        event.TxHash,
		BlockNumber:   event.BlockNumber,
		WalletAddress: event.Address,
		EventData:     event.EventBlob,
		Amount:        event.Amount,
		AdmittedAt:    event.CreatedAt,
		Timestamp:     ep.now(),
	}

	msgBytes, err := json.Marshal(kafkaMsg)
	if err != nil {
		return err
	}

	// Key on the transaction hash so both kinds of one transaction land on the same partition
	return ep.produce(ctx, ep.config.Topic, []byte(event.TxHash), msgBytes)
}

// PublishNotification sends a fired notification to the notification topic.
// It is a no-op when no notification topic is configured.
func (ep *EventPublisher) PublishNotification(ctx context.Context, sessionID, wallet string, notification notify.Notification) error {
	if ep.config.NotificationTopic == "" {
		return nil
	}

	msgBytes, err := json.Marshal(events.NotificationEvent{
		SessionID:     sessionID,
		WalletAddress: wallet,
		Title:         notification.Title,
		Body:          notification.Body,
		Timestamp:     notification.Timestamp,
	})
	if err != nil {
		return err
	}

	return ep.produce(ctx, ep.config.NotificationTopic, []byte(sessionID), msgBytes)
}

// NotificationSink binds PublishNotification to one session.
func (ep *EventPublisher) NotificationSink(sessionID, wallet string) notify.Sink {
	return notify.FuncSink{
		SinkName: "kafka",
		Fn: func(ctx context.Context, notification notify.Notification) error {
			return ep.PublishNotification(ctx, sessionID, wallet, notification)
		},
	}
}

// produce waits for the delivery report.
func (ep *EventPublisher) produce(ctx context.Context, topic string, key, value []byte) error {
	deliveryChan := make(chan kafka.Event, 1)

	err := ep.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, deliveryChan)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				return ev.TopicPartition.Error
			}
			return nil
		default:
			return fmt.Errorf("unexpected kafka event type: %T", e)
		}
	}
}

func (ep *EventPublisher) Close() error {
	if ep.producer != nil {
		ep.producer.Close()
	}
	return nil
}
