package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type PollingConfig struct {
	Interval string `mapstructure:"interval"`
}

// ServiceConfig declares one downstream backend. Threshold, recovery and
// quota override the circuit breaker defaults when set.
type ServiceConfig struct {
	Name             string `mapstructure:"name"`
	URL              string `mapstructure:"url"`
	HealthPath       string `mapstructure:"health_path"`
	Timeout          string `mapstructure:"timeout"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	RecoveryTimeout  string `mapstructure:"recovery_timeout"`
	HalfOpenQuota    int    `mapstructure:"half_open_quota"`
}

type RouteConfig struct {
	Prefix  string `mapstructure:"prefix"`
	Service string `mapstructure:"service"`
}

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Polling  PollingConfig   `mapstructure:"polling"`
	Services []ServiceConfig `mapstructure:"services"`
	Routes   []RouteConfig   `mapstructure:"routes"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("polling.interval", "10s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Polling,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PollingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PollingConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
		),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
		),
	); err != nil {
		return err
	}

	return c.validateCrossReferences()
}

// validateCrossReferences enforces unique names and prefixes, and that
// every route points at a declared service.
func (c *Config) validateCrossReferences() error {
	names := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if names[svc.Name] {
			return validation.NewError("validation_duplicate_service",
				fmt.Sprintf("duplicate service name %q", svc.Name))
		}
		names[svc.Name] = true
	}

	prefixes := make(map[string]bool, len(c.Routes))
	for _, route := range c.Routes {
		if prefixes[route.Prefix] {
			return validation.NewError("validation_duplicate_prefix",
				fmt.Sprintf("duplicate route prefix %q", route.Prefix))
		}
		prefixes[route.Prefix] = true

		if !names[route.Service] {
			return validation.NewError("validation_unknown_service",
				fmt.Sprintf("route %q references undeclared service %q", route.Prefix, route.Service))
		}
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServiceConfig(value interface{}) error {
	svc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	if svc.Name == "" {
		return validation.NewError("validation_empty_name", "service name cannot be empty")
	}

	if svc.URL == "" {
		return validation.NewError("validation_empty_url", "service URL cannot be empty")
	}

	parsedURL, err := url.Parse(svc.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if svc.HealthPath != "" && !strings.HasPrefix(svc.HealthPath, "/") {
		return validation.NewError("validation_invalid_health_path", "health path must start with /")
	}

	if svc.Timeout != "" {
		if err := validateDuration(svc.Timeout); err != nil {
			return err
		}
	}

	if svc.RecoveryTimeout != "" {
		if err := validateDuration(svc.RecoveryTimeout); err != nil {
			return err
		}
	}

	if svc.FailureThreshold < 0 {
		return validation.NewError("validation_invalid_threshold", "failure threshold cannot be negative")
	}

	if svc.HalfOpenQuota < 0 {
		return validation.NewError("validation_invalid_quota", "half-open quota cannot be negative")
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if route.Prefix == "" || !strings.HasPrefix(route.Prefix, "/") {
		return validation.NewError("validation_invalid_prefix", "route prefix must start with /")
	}

	if route.Service == "" {
		return validation.NewError("validation_empty_service", "route service cannot be empty")
	}

	return nil
}
