package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

// DefaultEnvFile is the dotenv file read before environment overrides are applied.
// DETECT_ENV_FILE points at a different one.
const DefaultEnvFile = ".env"

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	if err := loadEnvFile(GetEnvWithDefault("DETECT_ENV_FILE", DefaultEnvFile)); err != nil {
		return nil, err
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// SetLogger replaces the logger used for reload messages. It lets main load
// the configuration with a bootstrap logger before the configured one exists.
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	log := s.logger
	s.mu.Unlock()

	// Watchers may call Get, so they run without the lock
	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// loadEnvFile reads a dotenv file into the process environment. Variables already
// set win over the file, and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Log settings
	if val := os.Getenv("DETECT_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("DETECT_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("DETECT_LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}

	// Source settings
	if val := os.Getenv("DETECT_SOURCE_KIND"); val != "" {
		cfg.Source.Kind = val
	}
	if val := os.Getenv("DETECT_SOURCE_INPUT"); val != "" {
		cfg.Source.Input = val
	}
	cfg.Source.FPS = GetEnvInt("DETECT_SOURCE_FPS", cfg.Source.FPS)

	// Detector settings
	if val := os.Getenv("DETECT_DETECTOR_URL"); val != "" {
		cfg.Detector.ServiceURL = val
	}
	cfg.Detector.Timeout = GetEnvDuration("DETECT_DETECTOR_TIMEOUT", cfg.Detector.Timeout)
	cfg.Detector.ConfidenceThreshold = GetEnvFloat64("DETECT_CONFIDENCE_THRESHOLD", cfg.Detector.ConfidenceThreshold)
	if val := os.Getenv("DETECT_ENABLED_CLASSES"); val != "" {
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cfg.Detector.EnabledClasses = classes
	}

	// Stream settings
	cfg.Stream.NonOverlap = GetEnvBool("DETECT_NON_OVERLAP", cfg.Stream.NonOverlap)
	cfg.Annotation.Enabled = GetEnvBool("DETECT_ANNOTATE", cfg.Annotation.Enabled)

	// History settings
	if val := os.Getenv("DETECT_DATABASE_PATH"); val != "" {
		cfg.History.DatabasePath = val
	}
	cfg.History.RecordEmpty = GetEnvBool("DETECT_RECORD_EMPTY", cfg.History.RecordEmpty)

	// Ports
	cfg.Web.Port = GetEnvInt("DETECT_WEB_PORT", cfg.Web.Port)
	cfg.Health.Port = GetEnvInt("DETECT_HEALTH_PORT", cfg.Health.Port)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(val, "%f", &result); err != nil {
		return defaultValue
	}
	return result
}
