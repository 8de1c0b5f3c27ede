package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/relay"
	pkgconfig "github.com/ahmadimabudeyah-ops/school-platform/pkg/config"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/database"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig `mapstructure:"grpc"`
	WebSocket WebSocketConfig
	Relay     RelayConfig
	JWT       JWTConfig `mapstructure:"jwt"`
	Database  database.Config
	Catalog   CatalogConfig
	PubSub    pubsub.Config
	Presence  PresenceConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Enabled bool
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// RelayConfig selects the room policies of the signaling relay.
type RelayConfig struct {
	BroadcasterPolicy string `mapstructure:"broadcaster_policy"` // displace, notify, reject
	ChatPolicy        string `mapstructure:"chat_policy"`        // open, members_only
	NoTeacherMessage  string `mapstructure:"no_teacher_message"`
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Duration time.Duration `mapstructure:"-"`
}

type CatalogConfig struct {
	EnforceJoin bool `mapstructure:"enforce_join"`
}

// PresenceConfig configures the optional Redis mirror of live rooms.
type PresenceConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration `mapstructure:"-"`
	// ReconcileInterval is how often the mirror is realigned with the registry.
	ReconcileInterval time.Duration `mapstructure:"-"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 50090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("relay.broadcaster_policy", "displace")
	v.SetDefault("relay.chat_policy", "open")
	v.SetDefault("relay.no_teacher_message", relay.DefaultNoTeacherMessage)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "school-platform")
	v.SetDefault("jwt.duration", "24h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "school")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/school.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("catalog.enforce_join", false)
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.address", "localhost:6379")
	v.SetDefault("presence.password", "")
	v.SetDefault("presence.db", 0)
	v.SetDefault("presence.ttl", "12h")
	v.SetDefault("presence.reconcile_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("relay.broadcaster_policy", "RELAY_BROADCASTER_POLICY")
	v.BindEnv("relay.chat_policy", "RELAY_CHAT_POLICY")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.issuer", "JWT_ISSUER")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("catalog.enforce_join", "CATALOG_ENFORCE_JOIN")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("presence.enabled", "PRESENCE_ENABLED")
	v.BindEnv("presence.address", "REDIS_ADDRESS")
	v.BindEnv("presence.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.JWT.Duration = parseDuration(v, "jwt.duration", 24*time.Hour)
	cfg.Presence.TTL = parseDuration(v, "presence.ttl", 12*time.Hour)
	cfg.Presence.ReconcileInterval = parseDuration(v, "presence.reconcile_interval", time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
