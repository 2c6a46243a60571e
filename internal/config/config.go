package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Gateway        GatewayConfig
	Broker         BrokerConfig
	Microservice   MicroserviceConfig
	Database       DatabaseConfig
	Logging        LoggingConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	AdminPort           int `mapstructure:"admin_port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

type GatewayConfig struct {
	Host               string           `mapstructure:"host"`
	ContentType        string           `mapstructure:"content_type"`
	WaitTimeoutSeconds int              `mapstructure:"wait_timeout_seconds"`
	PipelineConfigFile string           `mapstructure:"pipeline_config_file"`
	TraceHeaderName    string           `mapstructure:"trace_header_name"`
	CORSAllowOrigin    string           `mapstructure:"cors_allow_origin"`
	StatusCodes        StatusCodeConfig `mapstructure:"status_codes"`
}

// WaitTimeout bounds every request-pattern step call.
func (c GatewayConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

type StatusCodeConfig struct {
	Get     int `mapstructure:"get"`
	Head    int `mapstructure:"head"`
	Post    int `mapstructure:"post"`
	Put     int `mapstructure:"put"`
	Patch   int `mapstructure:"patch"`
	Delete  int `mapstructure:"delete"`
	Default int `mapstructure:"default"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	NATS  NATSConfig  `mapstructure:"nats"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type NATSConfig struct {
	URLs                []string      `mapstructure:"urls"`
	ClientName          string        `mapstructure:"client_name"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	Token               string        `mapstructure:"token"`
	MaxReconnects       int           `mapstructure:"max_reconnects"`
	ReconnectWait       time.Duration `mapstructure:"reconnect_wait"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	MaxPingsOutstanding int           `mapstructure:"max_pings_out"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	ConnectRetry        RetryConfig   `mapstructure:"connect_retry"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// MicroserviceConfig drives the subscription side: which subjects to listen on
// and which registered handler or observer serves each one.
type MicroserviceConfig struct {
	ServiceName     string               `mapstructure:"service_name"`
	QueueGroup      string               `mapstructure:"queue_group"`
	TraceHeaderName string               `mapstructure:"trace_header_name"`
	AuthRedirectURL string               `mapstructure:"auth_redirect_url"`
	Subscriptions   []SubscriptionConfig `mapstructure:"subscriptions"`
}

type SubscriptionConfig struct {
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
	Handler    string `mapstructure:"handler"`
}

type DatabaseConfig struct {
	Redis RedisConfig
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
