// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Extraction, LLM, Annotator, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Extraction ExtractionConfig `yaml:"extraction"`
	LLM        LLMConfig        `yaml:"llm"`
	Annotator  AnnotatorConfig  `yaml:"annotator"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Store      StoreConfig      `yaml:"store"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables the annotated-document store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnnotateJobs    string `yaml:"annotateJobs"`
	AnnotateResults string `yaml:"annotateResults"`
	AlignmentEvents string `yaml:"alignmentEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ExtractionConfig controls chunking, prompt context and alignment.
type ExtractionConfig struct {
	MaxChunkTokens      int     `yaml:"maxChunkTokens"`
	OverlapTokens       int     `yaml:"overlapTokens"`
	ContextWindowChars  int     `yaml:"contextWindowChars"`
	FuzzyMatchThreshold float64 `yaml:"fuzzyMatchThreshold"`
	RespectBoundaries   bool    `yaml:"respectBoundaries"`
	Normalize           bool    `yaml:"normalize"`
	TrackerShards       int     `yaml:"trackerShards"`
}

// Validate rejects chunk settings the chunker cannot honour.
func (e ExtractionConfig) Validate() error {
	if e.MaxChunkTokens <= 0 {
		return fmt.Errorf("extraction.maxChunkTokens must be positive, got %d", e.MaxChunkTokens)
	}
	if e.OverlapTokens < 0 || e.OverlapTokens >= e.MaxChunkTokens {
		return fmt.Errorf("extraction.overlapTokens must be in [0, %d), got %d", e.MaxChunkTokens, e.OverlapTokens)
	}
	if e.ContextWindowChars < 0 {
		return fmt.Errorf("extraction.contextWindowChars must not be negative, got %d", e.ContextWindowChars)
	}
	if e.FuzzyMatchThreshold <= 0 {
		return fmt.Errorf("extraction.fuzzyMatchThreshold must be positive, got %g", e.FuzzyMatchThreshold)
	}
	return nil
}

// LLMConfig selects the default provider and holds per-provider credentials
// and retry policy.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"defaultProvider"`
	DefaultModel    string                    `yaml:"defaultModel"`
	Temperature     float64                   `yaml:"temperature"`
	MaxOutputTokens int                       `yaml:"maxOutputTokens"`
	Timeout         time.Duration             `yaml:"timeout"`
	MaxRetries      int                       `yaml:"maxRetries"`
	InitialDelay    time.Duration             `yaml:"initialDelay"`
	MaxDelay        time.Duration             `yaml:"maxDelay"`
	Multiplier      float64                   `yaml:"multiplier"`
	BreakerFailures int                       `yaml:"breakerFailures"`
	BreakerReset    time.Duration             `yaml:"breakerReset"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds one provider's endpoint and key.
type ProviderConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
}

// AnnotatorConfig controls the extraction pipeline.
type AnnotatorConfig struct {
	Concurrency   int    `yaml:"concurrency"`
	CacheResults  bool   `yaml:"cacheResults"`
	TemplatePath  string `yaml:"templatePath"`
	PdftotextPath string `yaml:"pdftotextPath"`
}

// CORSConfig lists the origins allowed to call the HTTP API.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
}

// RateLimitConfig caps requests per client.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// StoreConfig points at the JSONL result directory. An empty JSONLDir
// disables file output.
type StoreConfig struct {
	JSONLDir string `yaml:"jsonlDir"`
}

// AnalyticsConfig controls the alignment-event collector and aggregator.
type AnalyticsConfig struct {
	Port          int           `yaml:"port"`
	BufferSize    int           `yaml:"bufferSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	WindowSize    time.Duration `yaml:"windowSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), then a .env file, and applies
// environment-variable overrides. It returns a Config populated with sensible
// defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	envFile := os.Getenv("LX_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Extraction.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Provider returns the settings for name, or zero values when unset.
func (l LLMConfig) Provider(name string) ProviderConfig {
	return l.Providers[strings.ToLower(name)]
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  4 * time.Minute,
			MaxUploadBytes:  10 << 20,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "extract721",
			User:            "extract721",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "extract721-workers",
			Topics: KafkaTopics{
				AnnotateJobs:    "annotate-jobs",
				AnnotateResults: "annotate-results",
				AlignmentEvents: "alignment-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Extraction: ExtractionConfig{
			MaxChunkTokens:      1000,
			OverlapTokens:       0,
			ContextWindowChars:  0,
			FuzzyMatchThreshold: 0.75,
			RespectBoundaries:   true,
			Normalize:           true,
			TrackerShards:       16,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			DefaultModel:    "gemini-2.5-flash",
			Temperature:     0,
			MaxOutputTokens: 4096,
			Timeout:         2 * time.Minute,
			MaxRetries:      3,
			InitialDelay:    2 * time.Second,
			MaxDelay:        30 * time.Second,
			Multiplier:      2,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
			Providers: map[string]ProviderConfig{
				"gemini": {BaseURL: "https://generativelanguage.googleapis.com"},
				"openai": {BaseURL: "https://api.openai.com/v1"},
				"claude": {BaseURL: "https://api.anthropic.com"},
				"glm":    {BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
			},
		},
		Annotator: AnnotatorConfig{
			Concurrency:  4,
			CacheResults: true,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:8000", "http://127.0.0.1:8000"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Analytics: AnalyticsConfig{
			Port:          8083,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			WindowSize:    time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads LX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt("LX_SERVER_PORT", &cfg.Server.Port)

	setString("LX_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("LX_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("LX_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("LX_POSTGRES_USER", &cfg.Postgres.User)
	setString("LX_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("LX_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	if v := os.Getenv("LX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("LX_REDIS_ADDR", &cfg.Redis.Addr)
	setString("LX_REDIS_PASSWORD", &cfg.Redis.Password)

	setInt("LX_MAX_CHUNK_TOKENS", &cfg.Extraction.MaxChunkTokens)
	setInt("LX_OVERLAP_TOKENS", &cfg.Extraction.OverlapTokens)
	setInt("LX_CONTEXT_WINDOW_CHARS", &cfg.Extraction.ContextWindowChars)
	if v := os.Getenv("LX_FUZZY_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Extraction.FuzzyMatchThreshold = f
		}
	}

	setString("LX_LLM_PROVIDER", &cfg.LLM.DefaultProvider)
	setString("LX_LLM_MODEL", &cfg.LLM.DefaultModel)
	if v := os.Getenv("LX_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]ProviderConfig)
	}
	for name, env := range map[string]string{
		"gemini": "LX_GEMINI_API_KEY",
		"openai": "LX_OPENAI_API_KEY",
		"claude": "LX_ANTHROPIC_API_KEY",
		"glm":    "LX_GLM_API_KEY",
	} {
		if v := os.Getenv(env); v != "" {
			p := cfg.LLM.Providers[name]
			p.APIKey = v
			cfg.LLM.Providers[name] = p
		}
	}

	setInt("LX_ANNOTATOR_CONCURRENCY", &cfg.Annotator.Concurrency)
	setString("LX_TEMPLATE_PATH", &cfg.Annotator.TemplatePath)
	setString("LX_PDFTOTEXT_PATH", &cfg.Annotator.PdftotextPath)
	if v := os.Getenv("LX_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = strings.Split(v, ",")
	}
	setInt("LX_RATE_LIMIT_RPM", &cfg.RateLimit.RequestsPerMinute)
	setString("LX_JSONL_DIR", &cfg.Store.JSONLDir)
	setString("LX_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("LX_LOGGING_FORMAT", &cfg.Logging.Format)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
