package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// topicMatchMessages is the single topic every match channel maps onto.
const topicMatchMessages = "chat-match-messages"

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and
// message key. The entity id becomes the key so a conversation's events stay
// ordered within one partition.
//
//	"chat:match:M123:messages" → topic: "chat-match-messages", key: "M123"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	topic = parts[0] + "-" + parts[1] + "-" + strings.ReplaceAll(parts[3], "_", "-")
	return topic, parts[2], nil
}

// KafkaPubSub implements PubSub on Apache Kafka. Each Subscribe call gets a
// consumer group of its own so every session sees every event, then filters
// by message key.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[*kafkaSubscription]struct{}
	config        KafkaConfig
	buffer        int
	mu            sync.Mutex
	doneCh        chan struct{}
}

type kafkaSubscription struct {
	owner    *KafkaPubSub
	consumer *kafka.Consumer
	events   chan *Event
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig, buffer int) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[*kafkaSubscription]struct{}),
		config:        cfg,
		buffer:        buffer,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopics(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure kafka topics, they may already exist")
	}

	return kps, nil
}

func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topicMatchMessages,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := log.L()
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Err(r.Error).Msg("failed to create topic")
		}
	}

	return nil
}

func (k *KafkaPubSub) deliveryReportHandler() {
	l := log.L()
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l.Error().Err(ev.TopicPartition.Error).Msg("kafka pubsub delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish publishes an event to the topic and key derived from channel.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe starts a consumer that yields only events keyed for channel.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           k.groupIDFor(channel),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{
		owner:    k,
		consumer: c,
		events:   make(chan *Event, k.buffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	k.mu.Lock()
	k.subscriptions[sub] = struct{}{}
	k.mu.Unlock()

	go sub.consume(subCtx, key)

	return sub, nil
}

// groupIDFor returns a consumer group unique to one subscription.
func (k *KafkaPubSub) groupIDFor(channel string) string {
	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "pubsub-default"
	}
	return fmt.Sprintf("%s-%s-%s", groupID, sanitizeGroupID(channel), uuid.NewString())
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(k.subscriptions))
	for sub := range k.subscriptions {
		subs = append(subs, sub)
	}
	k.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

func (s *kafkaSubscription) Events() <-chan *Event {
	return s.events
}

func (s *kafkaSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.consumer.Close()

		s.owner.mu.Lock()
		delete(s.owner.subscriptions, s)
		s.owner.mu.Unlock()
	})
	return err
}

// consume polls Kafka and forwards events whose key matches.
func (s *kafkaSubscription) consume(ctx context.Context, key string) {
	defer close(s.done)
	defer close(s.events)

	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := s.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != key {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("kafka pubsub: dropping undecodable event")
				continue
			}

			select {
			case s.events <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str("event_type", event.Type).Msg("kafka pubsub: subscriber buffer full, event dropped")
			}

		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
