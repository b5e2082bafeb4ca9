package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const (
	EventTypeSettlement = "signal.settled"
	defaultTopic        = "veracity.settlements"
	publishTimeout      = 10 * time.Second
)

// KafkaPublisher sends settlement events to Kafka keyed by content ID, so
// every event for one item lands on the same partition in epoch order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic, clientID string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		topic = defaultTopic
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *KafkaPublisher) PublishSettlement(ctx context.Context, e domain.SettlementEvent) error {
	record, err := settlementRecord(p.topic, e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish settlement event: %w", err)
	}

	p.logger.Debug("settlement event published",
		zap.String("topic", p.topic),
		zap.String("content_id", e.ContentID),
		zap.Uint64("epoch", e.EpochNumber))
	return nil
}

// Ping checks broker reachability.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

func settlementRecord(topic string, e domain.SettlementEvent) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.ContentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventTypeSettlement)},
			{Key: "epoch", Value: []byte(strconv.FormatUint(e.EpochNumber, 10))},
		},
	}, nil
}
