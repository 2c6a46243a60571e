package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile when given, then layers environment variables on
// top. Without a file the defaults plus environment are enough to run.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.admin_port", 5001)
	viper.SetDefault("server.read_timeout_seconds", 30)
	viper.SetDefault("server.write_timeout_seconds", 30)

	viper.SetDefault("gateway.host", hostname)
	viper.SetDefault("gateway.content_type", "application/json; charset=utf-8")
	viper.SetDefault("gateway.wait_timeout_seconds", 10)
	viper.SetDefault("gateway.pipeline_config_file", "")
	viper.SetDefault("gateway.trace_header_name", "")
	viper.SetDefault("gateway.cors_allow_origin", "*")
	viper.SetDefault("gateway.status_codes.get", 200)
	viper.SetDefault("gateway.status_codes.head", 200)
	viper.SetDefault("gateway.status_codes.post", 201)
	viper.SetDefault("gateway.status_codes.put", 201)
	viper.SetDefault("gateway.status_codes.patch", 201)
	viper.SetDefault("gateway.status_codes.delete", 204)
	viper.SetDefault("gateway.status_codes.default", 200)

	viper.SetDefault("broker.type", "nats")
	viper.SetDefault("broker.nats.urls", []string{"nats://localhost:4222"})
	viper.SetDefault("broker.nats.client_name", hostname)
	viper.SetDefault("broker.nats.max_reconnects", -1)
	viper.SetDefault("broker.nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("broker.nats.ping_interval", 2*time.Second)
	viper.SetDefault("broker.nats.max_pings_out", 2)
	viper.SetDefault("broker.nats.connect_timeout", 5*time.Second)
	viper.SetDefault("broker.nats.drain_timeout", 5*time.Second)
	viper.SetDefault("broker.nats.connect_retry.max_attempts", 5)
	viper.SetDefault("broker.nats.connect_retry.initial_interval", 500*time.Millisecond)
	viper.SetDefault("broker.nats.connect_retry.max_interval", 10*time.Second)
	viper.SetDefault("broker.nats.connect_retry.multiplier", 2.0)
	viper.SetDefault("broker.kafka.audit_topic", "gateway_audit")

	viper.SetDefault("microservice.service_name", "example-handlers")
	viper.SetDefault("microservice.queue_group", "example.queue.group")
	viper.SetDefault("microservice.trace_header_name", "x-trace-id")
	viper.SetDefault("microservice.auth_redirect_url", "https://google.com")

	viper.SetDefault("database.redis.port", 6379)
	viper.SetDefault("database.redis.key_prefix", "customer:")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("rate_limit.rps", 100.0)
	viper.SetDefault("rate_limit.burst", 200)
	viper.SetDefault("rate_limit.cleanup_interval", 300)
	viper.SetDefault("rate_limit.max_age", 600)

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60*time.Second)
	viper.SetDefault("circuit_breaker.timeout", 30*time.Second)

	viper.SetDefault("tracing.sampler.type", "parentbased_always_on")
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "SERVER_PORT", "HTTP_NATS_PROXY_HOST_PORT")
	viper.BindEnv("server.admin_port", "SERVER_ADMIN_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("gateway.host", "GATEWAY_HOST", "HTTP_NATS_PROXY_HOST")
	viper.BindEnv("gateway.content_type", "GATEWAY_CONTENT_TYPE", "HTTP_NATS_PROXY_CONTENT_TYPE")
	viper.BindEnv("gateway.wait_timeout_seconds", "GATEWAY_WAIT_TIMEOUT_SECONDS", "HTTP_NATS_PROXY_WAIT_TIMEOUT_SECONDS")
	viper.BindEnv("gateway.pipeline_config_file", "GATEWAY_PIPELINE_CONFIG_FILE", "HTTP_NATS_PROXY_REQUEST_PIPELINE_CONFIG_FILE")
	viper.BindEnv("gateway.trace_header_name", "GATEWAY_TRACE_HEADER_NAME", "HTTP_NATS_PROXY_TRACE_HEADER_NAME")
	viper.BindEnv("gateway.status_codes.get", "HTTP_NATS_PROXY_GET_STATUS_CODE")
	viper.BindEnv("gateway.status_codes.head", "HTTP_NATS_PROXY_HEAD_STATUS_CODE")
	viper.BindEnv("gateway.status_codes.post", "HTTP_NATS_PROXY_POST_STATUS_CODE")
	viper.BindEnv("gateway.status_codes.put", "HTTP_NATS_PROXY_PUT_STATUS_CODE")
	viper.BindEnv("gateway.status_codes.patch", "HTTP_NATS_PROXY_PATCH_STATUS_CODE")
	viper.BindEnv("gateway.status_codes.delete", "HTTP_NATS_PROXY_DELETE_STATUS_CODE")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.nats.urls", "BROKER_NATS_URLS", "HTTP_NATS_PROXY_NAT_URL")
	viper.BindEnv("broker.nats.client_name", "BROKER_NATS_CLIENT_NAME")
	viper.BindEnv("broker.nats.username", "BROKER_NATS_USERNAME")
	viper.BindEnv("broker.nats.password", "BROKER_NATS_PASSWORD")
	viper.BindEnv("broker.nats.token", "BROKER_NATS_TOKEN")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.audit_topic", "BROKER_KAFKA_AUDIT_TOPIC")

	viper.BindEnv("microservice.service_name", "MICROSERVICE_SERVICE_NAME")
	viper.BindEnv("microservice.queue_group", "MICROSERVICE_QUEUE_GROUP")
	viper.BindEnv("microservice.trace_header_name", "MICROSERVICE_TRACE_HEADER_NAME", "TRACE_HEADER_NAME")
	viper.BindEnv("microservice.auth_redirect_url", "MICROSERVICE_AUTH_REDIRECT_URL")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if urls := splitList(os.Getenv("BROKER_NATS_URLS")); len(urls) > 0 {
		cfg.Broker.NATS.URLs = urls
	} else if urls := splitList(os.Getenv("HTTP_NATS_PROXY_NAT_URL")); len(urls) > 0 {
		cfg.Broker.NATS.URLs = urls
	}

	if brokers := splitList(os.Getenv("BROKER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Broker.Kafka.Brokers = brokers
	}

	return nil
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
