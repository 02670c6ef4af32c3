package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/pkg/config"
	"github.com/weiawesome/wes-io-live/pkg/idgen"
	"github.com/weiawesome/wes-io-live/pkg/storage"
	"github.com/weiawesome/wes-io-live/pkg/telemetry"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Storage   storage.Config
	Dispatch  DispatchConfig
	Typing    TypingConfig
	Calls     CallsConfig
	IDs       idgen.Config `mapstructure:"ids"`
	Telemetry telemetry.Config
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

type GRPCConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	PublicKeyFile string `mapstructure:"public_key_file"`
	Issuer        string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled       bool
	Address       string
	Password      string
	DB            int
	EventsChannel string        `mapstructure:"events_channel"`
	PresenceTTL   time.Duration `mapstructure:"presence_ttl"`
	DedupPrefix   string        `mapstructure:"dedup_prefix"`
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type DispatchConfig struct {
	DedupWindow      time.Duration `mapstructure:"dedup_window"`
	DedupBackend     string        `mapstructure:"dedup_backend"` // memory, redis
	MaxContentLength int           `mapstructure:"max_content_length"`
	MaxAttachments   int           `mapstructure:"max_attachments"`
	VerifyAttachment bool          `mapstructure:"verify_attachments"`
	RoomLockStripes  int           `mapstructure:"room_lock_stripes"`
}

type TypingConfig struct {
	Expiry time.Duration
}

type CallsConfig struct {
	OfferTimeout time.Duration `mapstructure:"offer_timeout"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads ./config/config.yaml, the environment and defaults. The returned
// viper instance can be watched for log level changes.
func Load() (*Config, *viper.Viper, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.instance_id", "realtime-1")
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50065)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/realtime.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.events_channel", "realtime:server_events")
	v.SetDefault("redis.presence_ttl", "0s")
	v.SetDefault("redis.dedup_prefix", "realtime:dedup:")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "realtime-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/attachments")
	v.SetDefault("dispatch.dedup_window", "5s")
	v.SetDefault("dispatch.dedup_backend", "memory")
	v.SetDefault("dispatch.max_content_length", 4000)
	v.SetDefault("dispatch.max_attachments", 10)
	v.SetDefault("dispatch.verify_attachments", false)
	v.SetDefault("dispatch.room_lock_stripes", 256)
	v.SetDefault("typing.expiry", "10s")
	v.SetDefault("calls.offer_timeout", "30s")
	v.SetDefault("ids.strategy", idgen.StrategyULID)
	v.SetDefault("telemetry.service_name", "realtime-service")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.public_key_file", "JWT_PUBLIC_KEY_FILE")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Redis.PresenceTTL = parseDuration(v, "redis.presence_ttl", 0)
	cfg.Dispatch.DedupWindow = parseDuration(v, "dispatch.dedup_window", 5*time.Second)
	cfg.Typing.Expiry = parseDuration(v, "typing.expiry", 10*time.Second)
	cfg.Calls.OfferTimeout = parseDuration(v, "calls.offer_timeout", 30*time.Second)

	return &cfg, v, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
