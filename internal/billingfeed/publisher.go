package billingfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher publishes billing events to Kafka.
type Publisher struct {
	mu     sync.RWMutex
	writer *kafka.Writer
	logger *zap.Logger
	topic  string
}

// PublisherConfig configures the Kafka publisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
}

// NewPublisher creates a Kafka publisher for billing events. Writes are
// synchronous so a failed publish is reported to the caller for spilling.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: cfg.RequiredAcks,
		Async:        false,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  5 * time.Second,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}

	return &Publisher{
		writer: writer,
		logger: logger.With(zap.String("component", "billing-feed-publisher")),
		topic:  cfg.Topic,
	}
}

// Publish writes one event to Kafka, keyed by account ID so all events for
// an account land on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	writer := p.writer
	p.mu.RUnlock()

	if writer == nil {
		return fmt.Errorf("billingfeed: writer is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("billingfeed: serialize event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.AccountID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(string(event.Type))},
		},
		Time: event.Timestamp,
	}

	if err := writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("failed to publish billing event",
			zap.String("event_id", event.EventID),
			zap.String("account_id", event.AccountID),
			zap.Error(err),
		)
		return fmt.Errorf("billingfeed: publish event: %w", err)
	}

	return nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
