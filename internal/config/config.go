// Package config provides configuration loading for docindex.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally layered on top of a YAML file (see LoadWithFile).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the complete docindex configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Index         IndexConfig         `koanf:"index"`
	Query         QueryConfig         `koanf:"query"`
	Synthesis     SynthesisConfig     `koanf:"synthesis"`
	Events        EventsConfig        `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"otlp_endpoint"`
	Protocol        string `koanf:"otlp_protocol"`
	Insecure        bool   `koanf:"otlp_insecure"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// ChunkingConfig holds default chunking parameters (word counts).
type ChunkingConfig struct {
	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`
}

// EmbeddingsConfig holds embedding provider and batching configuration.
type EmbeddingsConfig struct {
	Provider          string   `koanf:"provider"`
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Dimension         int      `koanf:"dimension"`
	CacheDir          string   `koanf:"cache_dir"`
	BatchSize         int      `koanf:"batch_size"`
	Concurrency       int      `koanf:"concurrency"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	MaxAttempts       int      `koanf:"max_attempts"`
	BaseBackoff       Duration `koanf:"base_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	Timeout           Duration `koanf:"timeout"`
}

// IndexConfig holds index persistence configuration.
type IndexConfig struct {
	Dir            string   `koanf:"dir"`
	RetainVersions int      `koanf:"retain_versions"`
	PersistTimeout Duration `koanf:"persist_timeout"`
}

// QueryConfig holds query defaults and confidence cut points.
type QueryConfig struct {
	DefaultK         int     `koanf:"default_k"`
	MaxK             int     `koanf:"max_k"`
	DefaultThreshold float64 `koanf:"default_threshold"`
	HighCut          float64 `koanf:"high_cut"`
	LowCut           float64 `koanf:"low_cut"`
	CacheSize        int     `koanf:"cache_size"`
}

// SynthesisConfig holds the OpenAI-compatible answer/summary client settings.
type SynthesisConfig struct {
	Enabled           bool     `koanf:"enabled"`
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// EventsConfig holds NATS event publishing configuration.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables follow the SECTION_FIELD convention, e.g.
// SERVER_HTTP_PORT, EMBEDDINGS_BATCH_SIZE, QUERY_DEFAULT_THRESHOLD.
func Load() *Config {
	d := Default()
	cfg := &Config{}

	cfg.Server.Host = getEnvString("SERVER_HTTP_HOST", d.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_HTTP_PORT", d.Server.Port)
	cfg.Server.ShutdownTimeout = Duration(getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout.Duration()))

	cfg.Observability.EnableTelemetry = getEnvBool("OBSERVABILITY_ENABLE_TELEMETRY", d.Observability.EnableTelemetry)
	cfg.Observability.ServiceName = getEnvString("OBSERVABILITY_SERVICE_NAME", d.Observability.ServiceName)
	cfg.Observability.Endpoint = getEnvString("OBSERVABILITY_OTLP_ENDPOINT", d.Observability.Endpoint)
	cfg.Observability.Protocol = getEnvString("OBSERVABILITY_OTLP_PROTOCOL", d.Observability.Protocol)
	cfg.Observability.Insecure = getEnvBool("OBSERVABILITY_OTLP_INSECURE", d.Observability.Insecure)

	cfg.Logging.Level = getEnvString("LOGGING_LEVEL", d.Logging.Level)
	cfg.Logging.Format = getEnvString("LOGGING_FORMAT", d.Logging.Format)
	cfg.Logging.Sampling = getEnvBool("LOGGING_SAMPLING", d.Logging.Sampling)
	cfg.Logging.OTEL = getEnvBool("LOGGING_OTEL", d.Logging.OTEL)

	cfg.Chunking.ChunkSize = getEnvInt("CHUNKING_CHUNK_SIZE", d.Chunking.ChunkSize)
	cfg.Chunking.Overlap = getEnvInt("CHUNKING_OVERLAP", d.Chunking.Overlap)

	cfg.Embeddings.Provider = getEnvString("EMBEDDINGS_PROVIDER", d.Embeddings.Provider)
	cfg.Embeddings.BaseURL = getEnvString("EMBEDDINGS_BASE_URL", d.Embeddings.BaseURL)
	cfg.Embeddings.Model = getEnvString("EMBEDDINGS_MODEL", d.Embeddings.Model)
	cfg.Embeddings.APIKey = Secret(getEnvString("EMBEDDINGS_API_KEY", ""))
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", d.Embeddings.Dimension)
	cfg.Embeddings.CacheDir = getEnvString("EMBEDDINGS_CACHE_DIR", d.Embeddings.CacheDir)
	cfg.Embeddings.BatchSize = getEnvInt("EMBEDDINGS_BATCH_SIZE", d.Embeddings.BatchSize)
	cfg.Embeddings.Concurrency = getEnvInt("EMBEDDINGS_CONCURRENCY", d.Embeddings.Concurrency)
	cfg.Embeddings.RequestsPerSecond = getEnvFloat("EMBEDDINGS_REQUESTS_PER_SECOND", d.Embeddings.RequestsPerSecond)
	cfg.Embeddings.MaxAttempts = getEnvInt("EMBEDDINGS_MAX_ATTEMPTS", d.Embeddings.MaxAttempts)
	cfg.Embeddings.BaseBackoff = Duration(getEnvDuration("EMBEDDINGS_BASE_BACKOFF", d.Embeddings.BaseBackoff.Duration()))
	cfg.Embeddings.MaxBackoff = Duration(getEnvDuration("EMBEDDINGS_MAX_BACKOFF", d.Embeddings.MaxBackoff.Duration()))
	cfg.Embeddings.Timeout = Duration(getEnvDuration("EMBEDDINGS_TIMEOUT", d.Embeddings.Timeout.Duration()))

	cfg.Index.Dir = getEnvString("INDEX_DIR", d.Index.Dir)
	cfg.Index.RetainVersions = getEnvInt("INDEX_RETAIN_VERSIONS", d.Index.RetainVersions)
	cfg.Index.PersistTimeout = Duration(getEnvDuration("INDEX_PERSIST_TIMEOUT", d.Index.PersistTimeout.Duration()))

	cfg.Query.DefaultK = getEnvInt("QUERY_DEFAULT_K", d.Query.DefaultK)
	cfg.Query.MaxK = getEnvInt("QUERY_MAX_K", d.Query.MaxK)
	cfg.Query.DefaultThreshold = getEnvFloat("QUERY_DEFAULT_THRESHOLD", d.Query.DefaultThreshold)
	cfg.Query.HighCut = getEnvFloat("QUERY_HIGH_CUT", d.Query.HighCut)
	cfg.Query.LowCut = getEnvFloat("QUERY_LOW_CUT", d.Query.LowCut)
	cfg.Query.CacheSize = getEnvInt("QUERY_CACHE_SIZE", d.Query.CacheSize)

	cfg.Synthesis.Enabled = getEnvBool("SYNTHESIS_ENABLED", d.Synthesis.Enabled)
	cfg.Synthesis.BaseURL = getEnvString("SYNTHESIS_BASE_URL", d.Synthesis.BaseURL)
	cfg.Synthesis.Model = getEnvString("SYNTHESIS_MODEL", d.Synthesis.Model)
	cfg.Synthesis.APIKey = Secret(getEnvString("SYNTHESIS_API_KEY", ""))
	cfg.Synthesis.Timeout = Duration(getEnvDuration("SYNTHESIS_TIMEOUT", d.Synthesis.Timeout.Duration()))
	cfg.Synthesis.MaxRetries = getEnvInt("SYNTHESIS_MAX_RETRIES", d.Synthesis.MaxRetries)
	cfg.Synthesis.RequestsPerSecond = getEnvFloat("SYNTHESIS_REQUESTS_PER_SECOND", d.Synthesis.RequestsPerSecond)

	cfg.Events.Enabled = getEnvBool("EVENTS_ENABLED", d.Events.Enabled)
	cfg.Events.NATSURL = getEnvString("EVENTS_NATS_URL", d.Events.NATSURL)
	cfg.Events.SubjectPrefix = getEnvString("EVENTS_SUBJECT_PREFIX", d.Events.SubjectPrefix)

	return cfg
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			ServiceName: "docindex",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 250,
			Overlap:   50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "tei",
			BaseURL:           "http://localhost:8080",
			Model:             "BAAI/bge-small-en-v1.5",
			Dimension:         384,
			BatchSize:         32,
			Concurrency:       4,
			RequestsPerSecond: 20,
			MaxAttempts:       3,
			BaseBackoff:       Duration(200 * time.Millisecond),
			MaxBackoff:        Duration(5 * time.Second),
			Timeout:           Duration(30 * time.Second),
		},
		Index: IndexConfig{
			Dir:            defaultIndexDir(),
			RetainVersions: 2,
			PersistTimeout: Duration(time.Minute),
		},
		Query: QueryConfig{
			DefaultK:         5,
			MaxK:             100,
			DefaultThreshold: -1,
			HighCut:          0.75,
			LowCut:           0.5,
			CacheSize:        64,
		},
		Synthesis: SynthesisConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Timeout:           Duration(60 * time.Second),
			MaxRetries:        3,
			RequestsPerSecond: 2,
		},
		Events: EventsConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "docindex",
		},
	}
}

func defaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "docindex")
	}
	return filepath.Join(home, ".local", "share", "docindex")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			errs = append(errs, errors.New("service name required when telemetry enabled"))
		}
		if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("otlp protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol))
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format))
	}

	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive: %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("overlap must be in [0, chunk_size): %d", c.Chunking.Overlap))
	}

	switch c.Embeddings.Provider {
	case "tei":
		if c.Embeddings.BaseURL == "" {
			errs = append(errs, errors.New("embeddings base_url required for tei provider"))
		}
	case "fastembed", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embeddings provider %q (expected tei, fastembed or hash)", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, errors.New("embeddings batch_size must be positive"))
	}
	if c.Embeddings.Concurrency <= 0 {
		errs = append(errs, errors.New("embeddings concurrency must be positive"))
	}
	if c.Embeddings.MaxAttempts <= 0 {
		errs = append(errs, errors.New("embeddings max_attempts must be positive"))
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embeddings requests_per_second cannot be negative"))
	}
	if c.Embeddings.MaxBackoff < c.Embeddings.BaseBackoff {
		errs = append(errs, errors.New("embeddings max_backoff must be >= base_backoff"))
	}

	if c.Index.Dir == "" {
		errs = append(errs, errors.New("index dir required"))
	}
	if c.Index.RetainVersions < 1 {
		errs = append(errs, fmt.Errorf("index retain_versions must be >= 1: %d", c.Index.RetainVersions))
	}

	if c.Query.DefaultK <= 0 || c.Query.DefaultK > c.Query.MaxK {
		errs = append(errs, fmt.Errorf("query default_k must be in [1, max_k]: %d", c.Query.DefaultK))
	}
	if c.Query.DefaultThreshold < -1 || c.Query.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("query default_threshold must be in [-1, 1]: %v", c.Query.DefaultThreshold))
	}
	if c.Query.HighCut < c.Query.LowCut {
		errs = append(errs, fmt.Errorf("query high_cut (%v) must be >= low_cut (%v)", c.Query.HighCut, c.Query.LowCut))
	}
	if c.Query.CacheSize <= 0 {
		errs = append(errs, errors.New("query cache_size must be positive"))
	}

	if c.Synthesis.Enabled && c.Synthesis.BaseURL == "" {
		errs = append(errs, errors.New("synthesis base_url required when synthesis enabled"))
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		errs = append(errs, errors.New("events nats_url required when events enabled"))
	}

	return errors.Join(errs...)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
