package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Config is the root configuration of the observability engine.
type Config struct {
	ServiceName   string                     `yaml:"serviceName"`
	Server        ServerConfig               `yaml:"server"`
	Log           observability.LogConfig    `yaml:"log"`
	Tracing       observability.TracerConfig `yaml:"tracing"`
	Filter        FilterConfig               `yaml:"filter"`
	Collector     CollectorConfig            `yaml:"collector"`
	Operations    OperationsConfig           `yaml:"operations"`
	Subscriptions SubscriptionsConfig        `yaml:"subscriptions"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	MetricsPath     string   `yaml:"metricsPath"`
	CapturePath     string   `yaml:"capturePath"`
	GraphQLPath     string   `yaml:"graphqlPath"`
	// Upstream is the GraphQL server requests on GraphQLPath are forwarded
	// to after capture. When empty the GraphQL route is not mounted and the
	// binary captures via the WebSocket endpoint only.
	Upstream        string   `yaml:"upstream"`
	UpstreamTimeout Duration `yaml:"upstreamTimeout"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// FilterConfig configures the operation record filter.
type FilterConfig struct {
	// Expression is a CEL expression over operationType, operationName,
	// depth and introspection. Empty tracks every operation.
	Expression string `yaml:"expression"`
}

// CollectorConfig configures the entry-collection sink.
type CollectorConfig struct {
	// Output selects the sink: stdout, file, redis, or none.
	Output     string      `yaml:"output"`
	FilePath   string      `yaml:"filePath"`
	BufferSize int         `yaml:"bufferSize"`
	RateLimit  float64     `yaml:"rateLimit"`
	RateBurst  int         `yaml:"rateBurst"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis Streams exporter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"maxLen"`
}

// OperationsConfig configures per-operation instrumentation.
type OperationsConfig struct {
	MaxQuerySize      int                `yaml:"maxQuerySize"`
	RecommendedDepth  int                `yaml:"recommendedDepth"`
	NPlusOneThreshold int                `yaml:"nPlusOneThreshold"`
	MaxResponseSize   int                `yaml:"maxResponseSize"`
	SensitivePatterns []string           `yaml:"sensitivePatterns"`
	FieldTracing      FieldTracingConfig `yaml:"fieldTracing"`
}

// FieldTracingConfig configures the sampling field tracer.
type FieldTracingConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SampleRate    float64  `yaml:"sampleRate"`
	SlowThreshold Duration `yaml:"slowThreshold"`
	MaxTraces     int      `yaml:"maxTraces"`
}

// SubscriptionsConfig configures subscription lifecycle tracking.
type SubscriptionsConfig struct {
	TrackConnectionEvents         bool   `yaml:"trackConnectionEvents"`
	TrackMessages                 bool   `yaml:"trackMessages"`
	BufferMessagePayloads         bool   `yaml:"bufferMessagePayloads"`
	MaxTrackedMessages            int    `yaml:"maxTrackedMessages"`
	MaxConnections                int    `yaml:"maxConnections"`
	MaxSubscriptionsPerConnection int    `yaml:"maxSubscriptionsPerConnection"`
	// Transport is the capture mode events are tagged with: gateway or engine.
	Transport string `yaml:"transport"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "gqlscope",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsPath:     "/metrics",
			CapturePath:     "/capture",
			GraphQLPath:     "/graphql",
			UpstreamTimeout: Duration(30 * time.Second),
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: observability.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: observability.TracerConfig{
			ServiceName:  "gqlscope",
			SamplingRate: 0.1,
		},
		Collector: CollectorConfig{
			Output:     "stdout",
			BufferSize: 1024,
			RateLimit:  500,
			RateBurst:  100,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "gqlscope:entries",
				MaxLen: 100_000,
			},
		},
		Operations: OperationsConfig{
			MaxQuerySize:      10_000,
			RecommendedDepth:  10,
			NPlusOneThreshold: 10,
			MaxResponseSize:   256 * 1024,
			FieldTracing: FieldTracingConfig{
				Enabled:    true,
				SampleRate: 0.1,
				MaxTraces:  100,
			},
		},
		Subscriptions: SubscriptionsConfig{
			TrackConnectionEvents:         true,
			TrackMessages:                 true,
			MaxTrackedMessages:            100,
			MaxConnections:                1000,
			MaxSubscriptionsPerConnection: 100,
			Transport:                     "gateway",
		},
	}
}

// LoadConfig loads and parses a YAML configuration file from the specified
// path. Values absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	// G304: path is validated above via os.Stat and comes from trusted configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// LoadAndValidateConfig loads a YAML config file and validates it.
func LoadAndValidateConfig(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
