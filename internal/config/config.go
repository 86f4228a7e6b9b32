// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Trace exporter names.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config holds all application configuration
type Config struct {
	ServiceName    string      `yaml:"service_name"`
	ServiceVersion string      `yaml:"service_version"`
	Environment    Environment `yaml:"environment"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Demo    DemoConfig    `yaml:"demo"`

	// ConfigFile is the YAML file the configuration was loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig configures the log sinks.
type LoggingConfig struct {
	// Level is the console sink threshold.
	Level          string `yaml:"level"`
	File           string `yaml:"file"`
	FileLevel      string `yaml:"file_level"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	OTLPEnabled    bool   `yaml:"otlp_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPLevel      string `yaml:"otlp_level"`
}

// TracingConfig configures span creation and export.
type TracingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Exporter      string        `yaml:"exporter"`
	CollectorHost string        `yaml:"collector_host"`
	CollectorPort int           `yaml:"collector_port"`
	Insecure      bool          `yaml:"insecure"`
	SampleRate    float64       `yaml:"sample_rate"`
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// Endpoint returns the collector address in host:port form.
func (t TracingConfig) Endpoint() string {
	return net.JoinHostPort(t.CollectorHost, strconv.Itoa(t.CollectorPort))
}

// MetricsConfig configures the metrics registry.
type MetricsConfig struct {
	Namespace      string    `yaml:"namespace"`
	Buckets        []float64 `yaml:"buckets"`
	RuntimeMetrics bool      `yaml:"runtime_metrics"`
}

// DemoConfig tunes the simulated behavior of the resource handlers.
type DemoConfig struct {
	FaultProbability   float64       `yaml:"fault_probability"`
	ProcessingDelayMin time.Duration `yaml:"processing_delay_min"`
	ProcessingDelayMax time.Duration `yaml:"processing_delay_max"`
	SlowDelayMin       time.Duration `yaml:"slow_delay_min"`
	SlowDelayMax       time.Duration `yaml:"slow_delay_max"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ServiceName:    "observability-demo",
		ServiceVersion: "1.0.0",
		Environment:    Development,
		Server: ServerConfig{
			Address:         ":8000",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:          "info",
			File:           "logs/app.log",
			FileLevel:      "debug",
			FileMaxSizeMB:  10,
			FileMaxBackups: 5,
			OTLPEnabled:    false,
			OTLPEndpoint:   "localhost:4317",
			OTLPLevel:      "info",
		},
		Tracing: TracingConfig{
			Enabled:       true,
			Exporter:      ExporterOTLP,
			CollectorHost: "localhost",
			CollectorPort: 4317,
			Insecure:      true,
			SampleRate:    1.0,
			QueueSize:     2048,
			BatchSize:     512,
			FlushInterval: 5 * time.Second,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			RuntimeMetrics: true,
		},
		Demo: DemoConfig{
			FaultProbability:   0.1,
			ProcessingDelayMin: 100 * time.Millisecond,
			ProcessingDelayMax: 500 * time.Millisecond,
			SlowDelayMin:       2 * time.Second,
			SlowDelayMax:       5 * time.Second,
		},
	}
}

// Load loads configuration using CONFIG_FILE as the optional YAML source.
func Load() (*Config, error) {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom loads configuration with path as the YAML source. A missing file
// is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	cfg.loadEnvironmentVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadEnvironmentVariables() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.ServiceVersion = getEnv("SERVICE_VERSION", c.ServiceVersion)
	c.Environment = Environment(getEnv("ENVIRONMENT", string(c.Environment)))

	// Server
	c.Server.Address = getEnv("SERVER_ADDRESS", c.Server.Address)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	// Logging
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	c.Logging.FileLevel = getEnv("LOG_FILE_LEVEL", c.Logging.FileLevel)
	c.Logging.FileMaxSizeMB = getEnvInt("LOG_FILE_MAX_SIZE_MB", c.Logging.FileMaxSizeMB)
	c.Logging.FileMaxBackups = getEnvInt("LOG_FILE_MAX_BACKUPS", c.Logging.FileMaxBackups)
	c.Logging.OTLPEnabled = getEnvBool("OTEL_LOGS_ENABLED", c.Logging.OTLPEnabled)
	c.Logging.OTLPEndpoint = getEnv("OTEL_LOGS_ENDPOINT", c.Logging.OTLPEndpoint)

	// Tracing. The Jaeger agent variables are honored for compatibility.
	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Exporter = getEnv("TRACE_EXPORTER", c.Tracing.Exporter)
	c.Tracing.CollectorHost = getEnv("TRACING_COLLECTOR_HOST", getEnv("JAEGER_AGENT_HOST", c.Tracing.CollectorHost))
	c.Tracing.CollectorPort = getEnvInt("TRACING_COLLECTOR_PORT", getEnvInt("JAEGER_AGENT_PORT", c.Tracing.CollectorPort))
	c.Tracing.SampleRate = getEnvFloat("TRACE_SAMPLE_RATE", c.Tracing.SampleRate)
	c.Tracing.QueueSize = getEnvInt("TRACE_QUEUE_SIZE", c.Tracing.QueueSize)
	c.Tracing.BatchSize = getEnvInt("TRACE_BATCH_SIZE", c.Tracing.BatchSize)
	c.Tracing.FlushInterval = getEnvDuration("TRACE_FLUSH_INTERVAL", c.Tracing.FlushInterval)
	c.Tracing.ExportTimeout = getEnvDuration("TRACE_EXPORT_TIMEOUT", c.Tracing.ExportTimeout)

	// Metrics
	c.Metrics.Namespace = getEnv("METRICS_NAMESPACE", c.Metrics.Namespace)

	// Demo behavior
	c.Demo.FaultProbability = getEnvFloat("FAULT_PROBABILITY", c.Demo.FaultProbability)
	c.Demo.ProcessingDelayMin = getEnvDuration("PROCESSING_DELAY_MIN", c.Demo.ProcessingDelayMin)
	c.Demo.ProcessingDelayMax = getEnvDuration("PROCESSING_DELAY_MAX", c.Demo.ProcessingDelayMax)
	c.Demo.SlowDelayMin = getEnvDuration("SLOW_DELAY_MIN", c.Demo.SlowDelayMin)
	c.Demo.SlowDelayMax = getEnvDuration("SLOW_DELAY_MAX", c.Demo.SlowDelayMax)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	switch c.Tracing.Exporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("trace sample rate must be between 0 and 1, got: %f", c.Tracing.SampleRate)
	}
	if c.Tracing.QueueSize <= 0 || c.Tracing.BatchSize <= 0 {
		return fmt.Errorf("trace queue and batch sizes must be positive")
	}
	if c.Tracing.BatchSize > c.Tracing.QueueSize {
		return fmt.Errorf("trace batch size %d exceeds queue size %d", c.Tracing.BatchSize, c.Tracing.QueueSize)
	}
	if c.Tracing.FlushInterval <= 0 {
		return fmt.Errorf("trace flush interval must be positive")
	}

	if c.Demo.FaultProbability < 0 || c.Demo.FaultProbability > 1 {
		return fmt.Errorf("fault probability must be between 0 and 1, got: %f", c.Demo.FaultProbability)
	}
	if c.Demo.ProcessingDelayMin > c.Demo.ProcessingDelayMax {
		return fmt.Errorf("processing delay min %s exceeds max %s", c.Demo.ProcessingDelayMin, c.Demo.ProcessingDelayMax)
	}
	if c.Demo.SlowDelayMin > c.Demo.SlowDelayMax {
		return fmt.Errorf("slow delay min %s exceeds max %s", c.Demo.SlowDelayMin, c.Demo.SlowDelayMax)
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
