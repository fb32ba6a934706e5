// Package config loads span tester and driver settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	ModeAmbient = "ambient"
	ModeOwned   = "owned"

	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

var (
	ErrInvalidMode     = errors.New("invalid span mode")
	ErrInvalidProtocol = errors.New("invalid OTLP protocol")
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Telemetry TelemetryConfig
	Logging   LogConfig
	Driver    DriverConfig
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            string        `envconfig:"PORT" default:"3000"`
	SpanMode        string        `envconfig:"SPAN_MODE" default:"ambient"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// TelemetryConfig holds tracer provider and exporter configuration.
// An empty Endpoint leaves endpoint resolution to the exporter.
type TelemetryConfig struct {
	ServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"span-tester"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	Protocol       string `envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL" default:"http/protobuf"`
	Endpoint       string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure       bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// DriverConfig holds traffic driver configuration.
type DriverConfig struct {
	ServiceName string  `envconfig:"DRIVER_SERVICE_NAME" default:"span-driver"`
	Target      string  `envconfig:"DRIVER_TARGET" default:"http://localhost:3000"`
	Rate        float64 `envconfig:"DRIVER_RATE" default:"5"`
	Count       int     `envconfig:"DRIVER_COUNT" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values envconfig cannot check by type alone.
func (c *Config) Validate() error {
	switch c.Server.SpanMode {
	case ModeAmbient, ModeOwned:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Server.SpanMode)
	}
	switch c.Telemetry.Protocol {
	case ProtocolHTTP, ProtocolGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, c.Telemetry.Protocol)
	}
	// Above one request per nanosecond the tick interval rounds to zero.
	if !(c.Driver.Rate > 0 && c.Driver.Rate <= float64(time.Second)) {
		return fmt.Errorf("driver rate must be in (0, 1e9], got %v", c.Driver.Rate)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3000",
			SpanMode:        ModeAmbient,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "span-tester",
			ServiceVersion: "1.0.0",
			Protocol:       ProtocolHTTP,
			Insecure:       true,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Driver: DriverConfig{
			ServiceName: "span-driver",
			Target:      "http://localhost:3000",
			Rate:        5,
		},
	}
}
