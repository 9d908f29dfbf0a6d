package config

import (
	"fmt"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/cache"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/capture"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/idgen"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/registry"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/repository"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	pkgconfig "github.com/isaacberry91/propswipes-sub000/pkg/config"
	"github.com/isaacberry91/propswipes-sub000/pkg/database"
	"github.com/isaacberry91/propswipes-sub000/pkg/jwt"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/isaacberry91/propswipes-sub000/pkg/pubsub"
	"github.com/isaacberry91/propswipes-sub000/pkg/storage"
)

type Config struct {
	Server       ServerConfig
	WebSocket    WebSocketConfig
	Database     database.Config
	MessageStore MessageStoreConfig `mapstructure:"message_store"`
	Redis        cache.RedisConfig
	Cache        CacheConfig
	PubSub       pubsub.Config
	Notify       NotifyConfig
	Presence     registry.Config
	Storage      storage.Config
	Uploader     uploader.Config
	Recorder     recorder.Config
	Capture      capture.Config
	Playback     PlaybackConfig
	IDGen        idgen.Config `mapstructure:"idgen"`
	JWT          jwt.Config
	Log          log.Config
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// MessageStoreConfig selects where messages live. "sql" keeps them next to
// matches in the relational database, "cassandra" in the wide-row store.
type MessageStoreConfig struct {
	Driver    string
	Cassandra repository.CassandraConfig
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type NotifyConfig struct {
	Driver  string // "kafka" or "none"
	Kafka   notify.KafkaConfig
	Timeout time.Duration
}

type PlaybackConfig struct {
	Speeds      []float64
	// "redis" or "memory"
	Store       string
	SpeedPrefix string        `mapstructure:"speed_prefix"`
	SpeedTTL    time.Duration `mapstructure:"speed_ttl"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config", "CHAT")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.instance_id", pkgconfig.GetEnv("HOSTNAME", "chat-service"))
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "propswipes")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.slow_threshold", "200ms")
	v.SetDefault("message_store.driver", "sql")
	v.SetDefault("message_store.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("message_store.cassandra.keyspace", "propswipes")
	v.SetDefault("message_store.cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("message_store.cassandra.connect_timeout", "10s")
	v.SetDefault("message_store.cassandra.timeout", "5s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "chat:context")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-service")
	v.SetDefault("pubsub.kafka.partitions", 8)
	v.SetDefault("pubsub.buffer", 256)
	v.SetDefault("notify.driver", "kafka")
	v.SetDefault("notify.kafka.brokers", "localhost:9092")
	v.SetDefault("notify.kafka.topic", "chat-notifications")
	v.SetDefault("notify.kafka.partitions", 8)
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("presence.prefix", "chat:presence")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.key_ttl", "30s")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./data/attachments")
	v.SetDefault("storage.local.public_base", "http://localhost:8088/files")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "chat-attachments")
	v.SetDefault("uploader.signed_url_ttl", "1h")
	v.SetDefault("uploader.max_file_size", 25<<20)
	v.SetDefault("uploader.max_image_dimension", 2048)
	v.SetDefault("recorder.tick_interval", "1s")
	v.SetDefault("recorder.max_duration", "5m")
	v.SetDefault("recorder.mime_type", "audio/ogg")
	v.SetDefault("capture.track_wait", "5s")
	v.SetDefault("capture.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("capture.chunk_size", 16384)
	v.SetDefault("playback.speeds", []float64{1, 1.5, 2})
	v.SetDefault("playback.store", "redis")
	v.SetDefault("playback.speed_prefix", "playback:speed:")
	v.SetDefault("playback.speed_ttl", "720h")
	v.SetDefault("idgen.strategy", "uuid")
	v.SetDefault("jwt.issuer", "propswipes")
	v.SetDefault("jwt.leeway", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("notify.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.s3.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("storage.local.url_secret", "STORAGE_URL_SECRET")
	v.BindEnv("jwt.secret", "JWT_SECRET")

	var cfg Config
	if err := pkgconfig.Decode(v, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.MessageStore.Driver {
	case "sql", "cassandra":
	default:
		return fmt.Errorf("unknown message_store.driver %q", c.MessageStore.Driver)
	}
	switch c.Notify.Driver {
	case "kafka", "none":
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	switch c.Playback.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown playback.store %q", c.Playback.Store)
	}
	if len(c.Playback.Speeds) == 0 {
		return fmt.Errorf("playback.speeds must not be empty")
	}
	if c.Uploader.SignedURLTTL <= 0 {
		return fmt.Errorf("uploader.signed_url_ttl must be positive")
	}
	if c.Storage.Type == "local" && c.Storage.Local.URLSecret == "" {
		c.Storage.Local.URLSecret = c.JWT.Secret
	}
	return nil
}
