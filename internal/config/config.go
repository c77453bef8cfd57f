package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Source     SourceConfig     `yaml:"source"`
	Detector   DetectorConfig   `yaml:"detector"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Stream     StreamConfig     `yaml:"stream"`
	History    HistoryConfig    `yaml:"history"`
	Web        WebConfig        `yaml:"web"`
	Health     HealthConfig     `yaml:"health"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SourceConfig describes where frames come from.
//
// Kind "ffmpeg" reads Input through ffmpeg (a V4L2 device, rtsp:// or http:// URL, or a
// video file). Kind "directory" replays the *.jpg files found in Input.
type SourceConfig struct {
	Kind             string          `yaml:"kind"`
	Input            string          `yaml:"input"`
	FFmpegPath       string          `yaml:"ffmpeg_path"`
	FPS              int             `yaml:"fps"`
	Width            int             `yaml:"width"`
	Height           int             `yaml:"height"`
	Loop             bool            `yaml:"loop"`
	ProbeRTSP        bool            `yaml:"probe_rtsp"`
	ReconnectBackoff []time.Duration `yaml:"reconnect_backoff"`
}

// DetectorConfig contains inference service configuration
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes"` // empty means every class
}

// AnnotationConfig controls how boxes are drawn onto frames
type AnnotationConfig struct {
	Enabled      bool `yaml:"enabled"`
	JPEGQuality  int  `yaml:"jpeg_quality"`
	BoxThickness int  `yaml:"box_thickness"`
}

// StreamConfig controls the broadcast cycle and per-viewer delivery
type StreamConfig struct {
	NonOverlap   bool          `yaml:"non_overlap"`
	QueueDepth   int           `yaml:"queue_depth"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// HistoryConfig contains detection history persistence configuration
type HistoryConfig struct {
	DatabasePath string        `yaml:"database_path"`
	BufferSize   int           `yaml:"buffer_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	RecordEmpty  bool          `yaml:"record_empty"`
	DefaultOrder string        `yaml:"default_order"`
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`

	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds how much detection history is kept
type RetentionConfig struct {
	MaxAge       time.Duration `yaml:"max_age"`        // 0 keeps rows of any age
	MaxRows      int           `yaml:"max_rows"`       // 0 keeps any number of rows
	MaxDiskUsage float64       `yaml:"max_disk_usage"` // percent of the database volume
	Interval     time.Duration `yaml:"interval"`
	PruneBatch   int           `yaml:"prune_batch"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows any origin
}

// HealthConfig contains health server configuration
type HealthConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled       bool `yaml:"enabled"`
	LatencyWindow int  `yaml:"latency_window"`
}

// Default returns a configuration populated with every default value.
// Boolean switches that default to true can only be expressed here, since
// setDefaults cannot tell an explicit false from a missing key.
func Default() *Config {
	cfg := &Config{
		Source: SourceConfig{
			Loop:      true,
			ProbeRTSP: true,
		},
		Annotation: AnnotationConfig{Enabled: true},
		Stream:     StreamConfig{NonOverlap: true},
		Metrics:    MetricsConfig{Enabled: true},
	}
	cfg.History.Retention.MaxAge = 30 * 24 * time.Hour
	cfg.setDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Unmarshal over the defaults so keys missing from the file keep them
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.dev.yaml",
		"../config/config.yaml",
		"/etc/object-detection/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[1]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "ffmpeg"
	}
	if c.Source.Input == "" {
		c.Source.Input = "/dev/video0"
	}
	if c.Source.FFmpegPath == "" {
		c.Source.FFmpegPath = "ffmpeg"
	}
	if c.Source.FPS == 0 {
		c.Source.FPS = 10
	}
	if c.Source.Width == 0 {
		c.Source.Width = 640
	}
	if c.Source.Height == 0 {
		c.Source.Height = 480
	}
	if len(c.Source.ReconnectBackoff) == 0 {
		c.Source.ReconnectBackoff = []time.Duration{
			time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
		}
	}

	if c.Detector.ServiceURL == "" {
		c.Detector.ServiceURL = "http://localhost:8080"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 2 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.25
	}

	if c.Annotation.JPEGQuality == 0 {
		c.Annotation.JPEGQuality = 80
	}
	if c.Annotation.BoxThickness == 0 {
		c.Annotation.BoxThickness = 2
	}

	if c.Stream.QueueDepth == 0 {
		c.Stream.QueueDepth = 1
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = 5 * time.Second
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = 30 * time.Second
	}

	if c.History.DatabasePath == "" {
		c.History.DatabasePath = "./data/detections.db"
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = 256
	}
	if c.History.MaxRetries == 0 {
		c.History.MaxRetries = 5
	}
	if c.History.RetryDelay == 0 {
		c.History.RetryDelay = 500 * time.Millisecond
	}
	if c.History.DefaultOrder == "" {
		c.History.DefaultOrder = "desc"
	}
	if c.History.DefaultLimit == 0 {
		c.History.DefaultLimit = 50
	}
	if c.History.MaxLimit == 0 {
		c.History.MaxLimit = 1000
	}
	if c.History.Retention.MaxDiskUsage == 0 {
		c.History.Retention.MaxDiskUsage = 90
	}
	if c.History.Retention.Interval == 0 {
		c.History.Retention.Interval = 10 * time.Minute
	}
	if c.History.Retention.PruneBatch == 0 {
		c.History.Retention.PruneBatch = 1000
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8000
	}

	if c.Health.Port == 0 {
		c.Health.Port = 8081
	}

	if c.Metrics.LatencyWindow == 0 {
		c.Metrics.LatencyWindow = 256
	}
}
