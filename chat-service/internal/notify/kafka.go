package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// KafkaConfig configures the notification topic.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

// KafkaDispatcher publishes notifications keyed by recipient so one
// recipient's pushes stay ordered.
type KafkaDispatcher struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewKafkaDispatcher(cfg KafkaConfig) (*KafkaDispatcher, error) {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if err := ensureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	d := &KafkaDispatcher{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}
	go d.deliveryReportHandler()
	return d, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

func (d *KafkaDispatcher) deliveryReportHandler() {
	l := log.L()
	for e := range d.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Warn().Err(ev.TopicPartition.Error).Str("topic", d.topic).Msg("notification delivery failed")
		}
	}
	close(d.doneCh)
}

// Dispatch enqueues n. Delivery failures surface in the report handler.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = d.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &d.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(n.RecipientProfileID),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce notification: %w", err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	d.producer.Flush(5000)
	d.producer.Close()
	<-d.doneCh
	return nil
}

var (
	_ Dispatcher = (*KafkaDispatcher)(nil)
	_ Dispatcher = NoOpDispatcher{}
)
