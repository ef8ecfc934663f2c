package config

import (
	"fmt"
	"net/url"
)

var (
	validLogLevels        = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats       = map[string]bool{"json": true, "console": true}
	validCollectorOutputs = map[string]bool{"stdout": true, "file": true, "redis": true, "none": true}
	validTransports       = map[string]bool{"gateway": true, "engine": true}
)

// Validate checks the configuration for errors. It returns the first
// problem found so misconfiguration fails at startup.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("serviceName must not be empty")
	}

	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.validateLog(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.validateTracing(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Collector.validate(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	if err := c.Operations.validate(); err != nil {
		return fmt.Errorf("operations: %w", err)
	}
	if err := c.Subscriptions.validate(); err != nil {
		return fmt.Errorf("subscriptions: %w", err)
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d is out of range [1, 65535]", s.Port)
	}
	if s.MetricsPath == "" {
		return fmt.Errorf("metricsPath must not be empty")
	}
	if s.Upstream != "" {
		u, err := url.Parse(s.Upstream)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("upstream %q is not a valid http(s) URL", s.Upstream)
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid level %q", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) validateTracing() error {
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("samplingRate %.2f is out of range [0, 1]", c.Tracing.SamplingRate)
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("otlpEndpoint is required when tracing is enabled")
	}
	return nil
}

func (c *CollectorConfig) validate() error {
	if !validCollectorOutputs[c.Output] {
		return fmt.Errorf("invalid output %q (want stdout, file, redis, or none)", c.Output)
	}
	if c.Output == "file" && c.FilePath == "" {
		return fmt.Errorf("filePath is required for file output")
	}
	if c.Output == "redis" {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for redis output")
		}
		if c.Redis.Stream == "" {
			return fmt.Errorf("redis.stream is required for redis output")
		}
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("bufferSize must not be negative")
	}
	return nil
}

func (o *OperationsConfig) validate() error {
	if o.MaxQuerySize <= 0 {
		return fmt.Errorf("maxQuerySize must be positive")
	}
	if o.NPlusOneThreshold <= 0 {
		return fmt.Errorf("nPlusOneThreshold must be positive")
	}
	if o.FieldTracing.SampleRate < 0 || o.FieldTracing.SampleRate > 1 {
		return fmt.Errorf("fieldTracing.sampleRate %.2f is out of range [0, 1]", o.FieldTracing.SampleRate)
	}
	if o.FieldTracing.MaxTraces < 0 {
		return fmt.Errorf("fieldTracing.maxTraces must not be negative")
	}
	return nil
}

func (s *SubscriptionsConfig) validate() error {
	if s.MaxConnections <= 0 {
		return fmt.Errorf("maxConnections must be positive")
	}
	if s.MaxSubscriptionsPerConnection <= 0 {
		return fmt.Errorf("maxSubscriptionsPerConnection must be positive")
	}
	if s.MaxTrackedMessages <= 0 {
		return fmt.Errorf("maxTrackedMessages must be positive")
	}
	if !validTransports[s.Transport] {
		return fmt.Errorf("invalid transport %q (want gateway or engine)", s.Transport)
	}
	return nil
}
