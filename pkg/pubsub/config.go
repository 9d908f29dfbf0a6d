package pubsub

import "time"

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
}

// Config holds the configuration for the pub/sub system.
type Config struct {
	Driver string      `mapstructure:"driver"` // "redis", "kafka", "memory"
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
	// Buffer is the per-subscription event buffer. Events are dropped when
	// a subscriber falls this far behind.
	Buffer int `mapstructure:"buffer"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver: "redis",
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Buffer: 100,
	}
}

// NewPubSub creates a new PubSub instance based on the configuration.
func NewPubSub(cfg Config) (PubSub, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100
	}
	switch cfg.Driver {
	case "memory":
		return NewMemoryPubSub(cfg.Buffer), nil
	case "kafka":
		ps, err := NewKafkaPubSub(cfg.Kafka, cfg.Buffer)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		ps, err := NewRedisPubSub(cfg.Redis, cfg.Buffer)
		if err != nil {
			return nil, err
		}
		return ps, nil
	}
}
