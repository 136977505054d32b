package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment surface of the gateway process.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	AppName  string `envconfig:"APP_NAME" default:"realtime-gateway"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Host string `envconfig:"SOCKET_HOST" default:"0.0.0.0"`
	Port string `envconfig:"SOCKET_PORT" default:"3001"`

	CORSOrigins    []string      `envconfig:"SOCKET_CORS_ORIGIN" default:"http://localhost:3000"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"1000"`
	PingInterval   time.Duration `envconfig:"PING_INTERVAL" default:"25s"`
	PingTimeout    time.Duration `envconfig:"PING_TIMEOUT" default:"60s"`
	MaxPayloadSize int64         `envconfig:"MAX_PAYLOAD_SIZE" default:"1048576"`

	// AuthSecret is the primary token secret; JWTSecret is the rotation
	// fallback tried when the primary rejects a token.
	AuthSecret     string `envconfig:"AUTH_SECRET"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	InternalAPIKey string `envconfig:"INTERNAL_API_KEY"`

	RedisHost         string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort         string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	RedisPoolSize     int    `envconfig:"REDIS_POOL_SIZE" default:"10"`
	RedisMinIdleConns int    `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	RedisMaxRetries   int    `envconfig:"REDIS_MAX_RETRIES" default:"3"`

	KafkaEnabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaGroup   string   `envconfig:"KAFKA_GROUP" default:"realtime-gateway"`

	// ReplicaID distinguishes this process from its peers on the relay
	// channel and the bus consumer group. Generated when unset.
	ReplicaID string `envconfig:"REPLICA_ID"`

	EnableVoiceCalls    bool `envconfig:"ENABLE_VOICE_CALLS" default:"false"`
	EnableFileSharing   bool `envconfig:"ENABLE_FILE_SHARING" default:"false"`
	EnableScreenSharing bool `envconfig:"ENABLE_SCREEN_SHARING" default:"false"`
	EnableLiveStreaming bool `envconfig:"ENABLE_LIVE_STREAMING" default:"false"`

	EditWindow       time.Duration `envconfig:"EDIT_WINDOW" default:"30m"`
	RoomHistoryLimit int64         `envconfig:"ROOM_HISTORY_LIMIT" default:"1000"`
	UserPostsLimit   int64         `envconfig:"USER_POSTS_LIMIT" default:"100"`
	MaxFileSize      int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`
}

// Load reads configuration from a local .env file (if present) and the
// process environment.
func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if cfg.AuthSecret == "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("at least one of AUTH_SECRET or JWT_SECRET is required")
	}
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = uuid.NewString()
	}
	return &cfg, nil
}

// Secrets returns the token verification secrets in rotation order.
func (c *Config) Secrets() []string {
	var secrets []string
	if c.AuthSecret != "" {
		secrets = append(secrets, c.AuthSecret)
	}
	if c.JWTSecret != "" && c.JWTSecret != c.AuthSecret {
		secrets = append(secrets, c.JWTSecret)
	}
	return secrets
}

// Features reports the feature-flag map advertised in the connection ack.
func (c *Config) Features() map[string]bool {
	return map[string]bool{
		"posts":         true,
		"stories":       true,
		"comments":      true,
		"likes":         true,
		"voiceCalls":    c.EnableVoiceCalls,
		"fileSharing":   c.EnableFileSharing,
		"screenSharing": c.EnableScreenSharing,
		"liveStreaming": c.EnableLiveStreaming,
	}
}
