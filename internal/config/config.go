package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Ingest     IngestConfig
	HL7        HL7Config
	Aggregator AggregatorConfig
	Export     ExportConfig
	Retry      RetryConfig
	Log        LogConfig
	Metrics    MetricsConfig
	CORS       CORSConfig
}

// ServerConfig holds the diagnostics HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// RedisConfig holds broker connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds artifact staging settings
type StorageConfig struct {
	// TemporaryPath is where inbound artifacts are staged before payload
	// assembly
	TemporaryPath string
}

// IngestConfig holds artifact admission settings
type IngestConfig struct {
	// PlugIns are the input plug-in names applied to DICOM arrivals
	PlugIns []string
	// StowSource is the source name assigned to STOW-RS arrivals
	StowSource string
}

// HL7Config holds the MLLP listener settings
type HL7Config struct {
	Enabled     bool
	Addr        string
	Source      string
	Destination string
	IdleTimeout time.Duration
}

// AggregatorConfig holds payload grouping settings
type AggregatorConfig struct {
	// DefaultTimeout is the flush deadline applied to sources without an
	// explicit configuration
	DefaultTimeout time.Duration

	// DefaultPolicy is "sliding" or "fixed"
	DefaultPolicy string

	// RequireRegisteredSource rejects submissions from unconfigured sources
	RequireRegisteredSource bool

	// SourcesFile optionally points at a JSON file with per-source settings
	SourcesFile string
}

// ExportConfig holds outbound delivery settings
type ExportConfig struct {
	// DestinationsFile points at a JSON file describing export destinations
	DestinationsFile string

	// MaxRetries bounds payload-level re-dispatch on delivery failure
	MaxRetries int

	// RetryDelay is the wait before a failed payload is re-dispatched
	RetryDelay time.Duration

	// AttemptDelays are the waits between delivery attempts inside the queue
	AttemptDelays []time.Duration
}

// RetryConfig holds the database retry schedule
type RetryConfig struct {
	// Delays are the waits before each database retry; the length bounds
	// the attempt count
	Delays []time.Duration
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
	// File enables rotating file output when set
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// CORSConfig holds CORS settings for the diagnostics API
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SourceSetting is one entry in the aggregator sources file
type SourceSetting struct {
	Name      string   `json:"name"`
	Timeout   Duration `json:"timeout"`
	Threshold int      `json:"threshold"`
	Policy    string   `json:"policy"`
	FlushTo   string   `json:"flush_to"`
}

// DestinationSetting is one entry in the export destinations file
type DestinationSetting struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AETitle        string   `json:"ae_title"`
	CallingAETitle string   `json:"calling_ae_title"`
	Endpoint       string   `json:"endpoint"`
	Timeout        Duration `json:"timeout"`
	PlugIns        []string `json:"plugins"`
}

// Duration unmarshals Go duration strings from JSON
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads configuration from the environment. A .env file, if present,
// is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("GATEWAY_HOST", "0.0.0.0"),
			Port:         getEnvInt("GATEWAY_PORT", 5000),
			ReadTimeout:  getEnvDuration("GATEWAY_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("GATEWAY_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "gateway"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "informatics_gateway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			TemporaryPath: getEnv("GATEWAY_TEMP_PATH", "/var/lib/gateway/incoming"),
		},
		Ingest: IngestConfig{
			PlugIns:    getEnvSlice("GATEWAY_INGEST_PLUGINS", nil),
			StowSource: getEnv("GATEWAY_STOW_SOURCE", "dicomweb"),
		},
		HL7: HL7Config{
			Enabled:     getEnvBool("GATEWAY_HL7_ENABLED", true),
			Addr:        getEnv("GATEWAY_HL7_ADDR", ":2575"),
			Source:      getEnv("GATEWAY_HL7_SOURCE", "hl7"),
			Destination: getEnv("GATEWAY_HL7_DESTINATION", ""),
			IdleTimeout: getEnvDuration("GATEWAY_HL7_IDLE_TIMEOUT", 5*time.Minute),
		},
		Aggregator: AggregatorConfig{
			DefaultTimeout:          getEnvDuration("GATEWAY_GROUPING_TIMEOUT", 30*time.Second),
			DefaultPolicy:           getEnv("GATEWAY_GROUPING_POLICY", "sliding"),
			RequireRegisteredSource: getEnvBool("GATEWAY_REQUIRE_REGISTERED_SOURCE", false),
			SourcesFile:             getEnv("GATEWAY_SOURCES_FILE", ""),
		},
		Export: ExportConfig{
			DestinationsFile: getEnv("GATEWAY_DESTINATIONS_FILE", ""),
			MaxRetries:       getEnvInt("GATEWAY_EXPORT_MAX_RETRIES", 3),
			RetryDelay:       getEnvDuration("GATEWAY_EXPORT_RETRY_DELAY", 30*time.Second),
			AttemptDelays:    getEnvDurations("GATEWAY_EXPORT_ATTEMPT_DELAYS", []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}),
		},
		Retry: RetryConfig{
			Delays: getEnvDurations("GATEWAY_DB_RETRY_DELAYS", []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Correlation-ID"}),
		},
	}

	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Aggregator.DefaultTimeout <= 0 {
		return fmt.Errorf("grouping timeout must be positive")
	}
	switch c.Aggregator.DefaultPolicy {
	case "sliding", "fixed":
	default:
		return fmt.Errorf("invalid grouping policy: %s", c.Aggregator.DefaultPolicy)
	}
	if c.Export.MaxRetries < 0 {
		return fmt.Errorf("export max retries must not be negative")
	}
	if c.Storage.TemporaryPath == "" {
		return fmt.Errorf("temporary storage path is required")
	}
	return nil
}

// LoadSources reads the per-source aggregator settings file, if configured
func (c *Config) LoadSources() ([]SourceSetting, error) {
	return loadJSONFile[SourceSetting](c.Aggregator.SourcesFile)
}

// LoadDestinations reads the export destinations file, if configured
func (c *Config) LoadDestinations() ([]DestinationSetting, error) {
	return loadJSONFile[DestinationSetting](c.Export.DestinationsFile)
}

func loadJSONFile[T any](path string) ([]T, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDurations(key string, fallback []time.Duration) []time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	var delays []time.Duration
	for _, part := range strings.Split(value, ",") {
		parsed, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		delays = append(delays, parsed)
	}
	return delays
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
