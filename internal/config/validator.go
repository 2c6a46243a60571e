package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks the settings shared by every binary.
func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateGateway(cfg.Gateway); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateCircuitBreaker(cfg.CircuitBreaker); err != nil {
		errors = append(errors, err)
	}

	if err := validateRateLimit(cfg.RateLimit); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

// ValidateMicroservice checks the subscription side settings.
func ValidateMicroservice(cfg *Config) error {
	if cfg.Broker.Type == "nats" && cfg.Broker.NATS.ClientName == "" {
		return &ValidationError{
			Field:   "broker.nats.client_name",
			Message: "a client name is required",
		}
	}

	if len(cfg.Microservice.Subscriptions) == 0 {
		return &ValidationError{
			Field:   "microservice.subscriptions",
			Message: "at least one subscription is required",
		}
	}

	for i, sub := range cfg.Microservice.Subscriptions {
		if sub.Subject == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("microservice.subscriptions[%d].subject", i),
				Message: "subject is required",
			}
		}
		if sub.Handler == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("microservice.subscriptions[%d].handler", i),
				Message: "handler is required",
			}
		}
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.AdminPort < 0 || cfg.AdminPort > 65535 {
		return &ValidationError{
			Field:   "server.admin_port",
			Message: fmt.Sprintf("admin port must be between 0 and 65535, got %d", cfg.AdminPort),
		}
	}

	if cfg.AdminPort != 0 && cfg.AdminPort == cfg.Port {
		return &ValidationError{
			Field:   "server.admin_port",
			Message: "admin port must differ from the proxy port",
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateGateway(cfg GatewayConfig) error {
	if cfg.WaitTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "gateway.wait_timeout_seconds",
			Message: "wait timeout must be positive",
		}
	}

	if strings.TrimSpace(cfg.ContentType) == "" {
		return &ValidationError{
			Field:   "gateway.content_type",
			Message: "content type is required",
		}
	}

	codes := map[string]int{
		"get":     cfg.StatusCodes.Get,
		"head":    cfg.StatusCodes.Head,
		"post":    cfg.StatusCodes.Post,
		"put":     cfg.StatusCodes.Put,
		"patch":   cfg.StatusCodes.Patch,
		"delete":  cfg.StatusCodes.Delete,
		"default": cfg.StatusCodes.Default,
	}
	for method, code := range codes {
		if code < 100 || code > 599 {
			return &ValidationError{
				Field:   "gateway.status_codes." + method,
				Message: fmt.Sprintf("status code must be between 100 and 599, got %d", code),
			}
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "nats":
		return validateNATS(cfg.NATS)
	case "memory":
		return nil
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: nats, memory)", cfg.Type),
		}
	}
}

func validateNATS(cfg NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return &ValidationError{
			Field:   "broker.nats.urls",
			Message: "at least one NATS server url is required",
		}
	}

	for i, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.nats.urls[%d]", i),
				Message: fmt.Sprintf("invalid server url %q", raw),
			}
		}
	}

	if cfg.ConnectRetry.Multiplier < 0 {
		return &ValidationError{
			Field:   "broker.nats.connect_retry.multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	if cfg.ConnectRetry.MaxInterval > 0 && cfg.ConnectRetry.InitialInterval > cfg.ConnectRetry.MaxInterval {
		return &ValidationError{
			Field:   "broker.nats.connect_retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}

func validateCircuitBreaker(cfg CircuitBreakerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.FailureRatio < 0 || cfg.FailureRatio > 1 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: "failure ratio must be between 0 and 1",
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RPS <= 0 {
		return &ValidationError{
			Field:   "rate_limit.rps",
			Message: "rps must be positive",
		}
	}

	if cfg.Burst <= 0 {
		return &ValidationError{
			Field:   "rate_limit.burst",
			Message: "burst must be positive",
		}
	}

	return nil
}
