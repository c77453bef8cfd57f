package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Validate source settings
	switch c.Source.Kind {
	case "ffmpeg", "directory":
	default:
		errors = append(errors, fmt.Sprintf("invalid source.kind: %s (must be: ffmpeg or directory)", c.Source.Kind))
	}

	if c.Source.Input == "" {
		errors = append(errors, "source.input is required")
	}

	if c.Source.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("source.fps must be > 0, got: %d", c.Source.FPS))
	}

	if c.Source.Width < 0 || c.Source.Height < 0 {
		errors = append(errors, fmt.Sprintf("source.width and source.height must be >= 0, got: %dx%d", c.Source.Width, c.Source.Height))
	}

	for i, delay := range c.Source.ReconnectBackoff {
		if delay <= 0 {
			errors = append(errors, fmt.Sprintf("source.reconnect_backoff[%d] must be > 0, got: %v", i, delay))
		}
	}

	// Validate detector settings
	if c.Detector.ServiceURL == "" {
		errors = append(errors, "detector.service_url is required")
	} else if u, err := url.Parse(c.Detector.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("detector.service_url is not a valid URL: %s", c.Detector.ServiceURL))
	}

	if c.Detector.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("detector.timeout must be > 0, got: %v", c.Detector.Timeout))
	}

	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold))
	}

	// Validate annotation settings
	if c.Annotation.JPEGQuality < 1 || c.Annotation.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("annotation.jpeg_quality must be between 1 and 100, got: %d", c.Annotation.JPEGQuality))
	}

	if c.Annotation.BoxThickness < 1 {
		errors = append(errors, fmt.Sprintf("annotation.box_thickness must be >= 1, got: %d", c.Annotation.BoxThickness))
	}

	// Only latest-wins with a single slot is supported
	if c.Stream.QueueDepth != 1 {
		errors = append(errors, fmt.Sprintf("stream.queue_depth must be 1 (latest-wins), got: %d", c.Stream.QueueDepth))
	}

	if c.Stream.WriteTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("stream.write_timeout must be > 0, got: %v", c.Stream.WriteTimeout))
	}

	if c.Stream.PingInterval <= 0 {
		errors = append(errors, fmt.Sprintf("stream.ping_interval must be > 0, got: %v", c.Stream.PingInterval))
	}

	// Validate history settings
	if c.History.DatabasePath == "" {
		errors = append(errors, "history.database_path is required")
	}

	if c.History.BufferSize <= 0 {
		errors = append(errors, fmt.Sprintf("history.buffer_size must be > 0, got: %d", c.History.BufferSize))
	}

	if c.History.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("history.max_retries must be >= 0, got: %d", c.History.MaxRetries))
	}

	if c.History.RetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("history.retry_delay must be >= 0, got: %v", c.History.RetryDelay))
	}

	if c.History.DefaultOrder != "asc" && c.History.DefaultOrder != "desc" {
		errors = append(errors, fmt.Sprintf("invalid history.default_order: %s (must be: asc or desc)", c.History.DefaultOrder))
	}

	if c.History.DefaultLimit <= 0 {
		errors = append(errors, fmt.Sprintf("history.default_limit must be > 0, got: %d", c.History.DefaultLimit))
	}

	if c.History.DefaultLimit > c.History.MaxLimit {
		errors = append(errors, fmt.Sprintf("history.default_limit (%d) cannot be greater than max_limit (%d)", c.History.DefaultLimit, c.History.MaxLimit))
	}

	if c.History.Retention.MaxAge < 0 {
		errors = append(errors, fmt.Sprintf("history.retention.max_age must be >= 0, got: %v", c.History.Retention.MaxAge))
	}

	if c.History.Retention.MaxRows < 0 {
		errors = append(errors, fmt.Sprintf("history.retention.max_rows must be >= 0, got: %d", c.History.Retention.MaxRows))
	}

	if c.History.Retention.MaxDiskUsage <= 0 || c.History.Retention.MaxDiskUsage > 100 {
		errors = append(errors, fmt.Sprintf("history.retention.max_disk_usage must be between 0 and 100, got: %.1f", c.History.Retention.MaxDiskUsage))
	}

	if c.History.Retention.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("history.retention.interval must be > 0, got: %v", c.History.Retention.Interval))
	}

	if c.History.Retention.PruneBatch <= 0 {
		errors = append(errors, fmt.Sprintf("history.retention.prune_batch must be > 0, got: %d", c.History.Retention.PruneBatch))
	}

	// Validate ports
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", c.Health.Port))
	}

	if c.Web.Port == c.Health.Port {
		errors = append(errors, fmt.Sprintf("web.port and health.port must differ, both are: %d", c.Web.Port))
	}

	if c.Metrics.LatencyWindow <= 0 {
		errors = append(errors, fmt.Sprintf("metrics.latency_window must be > 0, got: %d", c.Metrics.LatencyWindow))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
