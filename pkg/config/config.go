package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/groupgate/groupgate/pkg/observability"
)

// Strategy names for bulk content filtering.
const (
	StrategyFilter    = "filter"
	StrategyExclude   = "exclude"
	StrategyInclude   = "include"
	StrategyPropagate = "propagate"
)

// Parent check modes for hierarchical read checks.
const (
	// ParentCheckAlways requires every ancestor of an item to permit the
	// user as well, even when the item carries its own read groups.
	ParentCheckAlways = "always"
	// ParentCheckInheritOnly consults ancestors only when the item has
	// no read groups of its own.
	ParentCheckInheritOnly = "inherit-only"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis event publishing configuration
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Access control configuration
	Access AccessConfig

	// Optional YAML file overriding the access section at runtime
	AccessConfigFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// RedisConfig holds the optional Redis event channel configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// AccessConfig holds the access resolution settings. These are the
// settings the runtime Settings holder exposes and the file watcher can
// replace while the server is running.
type AccessConfig struct {
	// Strategy selects the bulk filtering strategy.
	Strategy string `yaml:"access_strategy"`

	// PropagateEnabled turns on write-time mirroring of read groups to
	// descendant items.
	PropagateEnabled bool `yaml:"propagate_enabled"`

	// ReadItemTypes lists the item types subject to read filtering.
	ReadItemTypes []string `yaml:"read_item_types"`

	// EditItemTypes lists the item types subject to edit gating.
	EditItemTypes []string `yaml:"edit_item_types"`

	// MarkingSymbol is appended to titles of restricted items for users
	// who may see markings.
	MarkingSymbol string `yaml:"marking_symbol"`

	// ParentCheckMode selects how content-tree ancestors participate in
	// read checks.
	ParentCheckMode string `yaml:"parent_check_mode"`

	// MaxDepth bounds all hierarchy walks. Exceeding it fails closed.
	MaxDepth int `yaml:"max_depth"`

	// SuperUserIDs bypass all group checks.
	SuperUserIDs []int64 `yaml:"super_user_ids"`

	// ManagerUserIDs may administer groups over the HTTP API.
	ManagerUserIDs []int64 `yaml:"manager_user_ids"`

	// MarkerUserIDs see the marking symbol on restricted titles.
	MarkerUserIDs []int64 `yaml:"marker_user_ids"`
}

// DefaultAccessConfig returns the default access settings
func DefaultAccessConfig() AccessConfig {
	return AccessConfig{
		Strategy:         StrategyFilter,
		PropagateEnabled: false,
		ReadItemTypes:    []string{"post", "page"},
		EditItemTypes:    []string{"post", "page"},
		MarkingSymbol:    "*",
		ParentCheckMode:  ParentCheckAlways,
		MaxDepth:         64,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:           loadServerConfig(),
		Database:         loadDatabaseConfig(),
		Redis:            loadRedisConfig(),
		Observability:    loadObservabilityConfig(),
		Access:           loadAccessConfig(),
		AccessConfigFile: getEnv("GROUPGATE_ACCESS_CONFIG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GROUPGATE_HOST", "0.0.0.0"),
		Port:            getEnv("GROUPGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GROUPGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GROUPGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GROUPGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GROUPGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GROUPGATE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("GROUPGATE_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("GROUPGATE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("GROUPGATE_POSTGRES_IDLE_CONNS", 5),
		ConnTimeout:  getEnvDuration("GROUPGATE_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

// loadRedisConfig loads the Redis event channel configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("GROUPGATE_REDIS_ENABLED", false),
		Addr:     getEnv("GROUPGATE_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("GROUPGATE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("GROUPGATE_REDIS_DB", 0),
		Channel:  getEnv("GROUPGATE_REDIS_CHANNEL", "groupgate:events"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GROUPGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GROUPGATE_METRICS_ENABLED", true),
	}
}

// loadAccessConfig loads access settings from environment
func loadAccessConfig() AccessConfig {
	cfg := DefaultAccessConfig()

	if strategy := getEnv("GROUPGATE_ACCESS_STRATEGY", ""); strategy != "" {
		cfg.Strategy = strings.ToLower(strategy)
	}
	cfg.PropagateEnabled = getEnvBool("GROUPGATE_PROPAGATE_ENABLED", cfg.PropagateEnabled)
	if types := getEnv("GROUPGATE_READ_ITEM_TYPES", ""); types != "" {
		cfg.ReadItemTypes = splitList(types)
	}
	if types := getEnv("GROUPGATE_EDIT_ITEM_TYPES", ""); types != "" {
		cfg.EditItemTypes = splitList(types)
	}
	if symbol := getEnv("GROUPGATE_MARKING_SYMBOL", ""); symbol != "" {
		cfg.MarkingSymbol = symbol
	}
	if mode := getEnv("GROUPGATE_PARENT_CHECK_MODE", ""); mode != "" {
		cfg.ParentCheckMode = strings.ToLower(mode)
	}
	if depth := getEnvInt("GROUPGATE_MAX_DEPTH", 0); depth > 0 {
		cfg.MaxDepth = depth
	}
	cfg.SuperUserIDs = getEnvIDList("GROUPGATE_SUPER_USERS")
	cfg.ManagerUserIDs = getEnvIDList("GROUPGATE_MANAGER_USERS")
	cfg.MarkerUserIDs = getEnvIDList("GROUPGATE_MARKER_USERS")

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Access.Validate(); err != nil {
		return err
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when event publishing is enabled")
	}

	return nil
}

// Validate checks the access settings
func (c *AccessConfig) Validate() error {
	switch c.Strategy {
	case StrategyFilter, StrategyExclude, StrategyInclude, StrategyPropagate:
	default:
		return fmt.Errorf("invalid access strategy: %s (must be filter, exclude, include, or propagate)", c.Strategy)
	}

	switch c.ParentCheckMode {
	case ParentCheckAlways, ParentCheckInheritOnly:
	default:
		return fmt.Errorf("invalid parent check mode: %s (must be always or inherit-only)", c.ParentCheckMode)
	}

	if c.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList splits a comma-separated list, trimming whitespace
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvIDList parses a comma-separated list of numeric user IDs.
// Non-numeric entries are skipped.
func getEnvIDList(key string) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var ids []int64
	for _, part := range splitList(value) {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
