package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type DBConfig struct {
	DBDSN                   string `envconfig:"DB_DSN" required:"true"`
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`
}

type RedisConfig struct {
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	CacheNamespace string `envconfig:"CACHE_NAMESPACE" default:"notifgw"`
}

type QueueConfig struct {
	// redis | sqs
	QueueBackend    string        `envconfig:"QUEUE_BACKEND" default:"redis"`
	QueuePopTimeout time.Duration `envconfig:"QUEUE_POP_TIMEOUT" default:"5s"`

	// AWS / SQS, only read when QUEUE_BACKEND=sqs
	AWSRegion          string `envconfig:"AWS_REGION"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type TrafficConfig struct {
	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	IPPerMinute       int           `envconfig:"RATE_LIMIT_IP_PER_MINUTE" default:"100"`
	GlobalPerMinute   int           `envconfig:"RATE_LIMIT_GLOBAL_PER_MINUTE" default:"10000"`
	AutoBanEnabled    bool          `envconfig:"AUTO_BAN_ENABLED" default:"true"`
	AutoBanThreshold  int           `envconfig:"AUTO_BAN_THRESHOLD" default:"10"`
	AutoBanDuration   time.Duration `envconfig:"AUTO_BAN_DURATION" default:"3600s"`
	ViolationTTL      time.Duration `envconfig:"VIOLATION_TTL" default:"10m"`
	BlacklistCacheTTL time.Duration `envconfig:"BLACKLIST_CACHE_TTL" default:"5m"`
}

type ShortLinkConfig struct {
	ShortURLDomain   string        `envconfig:"SHORT_URL_DOMAIN" default:"http://localhost:8079"`
	ShortCodeLength  int           `envconfig:"SHORT_CODE_LENGTH" default:"6"`
	DefaultLinkTTL   time.Duration `envconfig:"SHORT_URL_DEFAULT_TTL" default:"0s"`
	NegativeCacheTTL time.Duration `envconfig:"SHORT_URL_NEGATIVE_TTL" default:"5m"`
	AccessLogWorkers int           `envconfig:"ACCESS_LOG_WORKERS" default:"4"`
	AccessLogBacklog int           `envconfig:"ACCESS_LOG_BACKLOG" default:"1000"`
}

type ChannelConfig struct {
	ChannelSendTimeout     time.Duration `envconfig:"CHANNEL_SEND_TIMEOUT" default:"10s"`
	ChannelRPSPerPod       float64       `envconfig:"CHANNEL_RPS_PER_POD" default:"20"`
	ChannelBurst           int           `envconfig:"CHANNEL_BURST" default:"40"`
	ChannelBreakerFailures uint32        `envconfig:"CHANNEL_BREAKER_FAILURES" default:"10"`
	ChannelBreakerOpen     time.Duration `envconfig:"CHANNEL_BREAKER_OPEN" default:"20s"`
}

type APIConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// Twilio status callbacks; signature check is skipped when the token is empty.
	TwilioAuthToken   string `envconfig:"TWILIO_AUTH_TOKEN"`
	PublicCallbackURL string `envconfig:"PUBLIC_CALLBACK_URL"` // must match EXACT URL configured in Twilio

	DBConfig
	RedisConfig
	QueueConfig
	TrafficConfig
	ShortLinkConfig
	ChannelConfig
}

type WorkerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	WorkerCoreSize       int           `envconfig:"WORKER_CORE_SIZE" default:"10"`
	WorkerMaxSize        int           `envconfig:"WORKER_MAX_SIZE" default:"20"`
	WorkerBacklog        int           `envconfig:"WORKER_BACKLOG" default:"1000"`
	WorkerKeepAlive      time.Duration `envconfig:"WORKER_KEEP_ALIVE" default:"60s"`
	WorkerOverflowPolicy string        `envconfig:"WORKER_OVERFLOW_POLICY" default:"run_inline"`
	ShutdownGrace        time.Duration `envconfig:"SHUTDOWN_GRACE" default:"60s"`

	DBConfig
	RedisConfig
	QueueConfig
	ChannelConfig
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
