// Package config loads the hybrid search configuration: built-in defaults,
// overlaid by an optional YAML file, an optional .env file and finally SP_*
// environment variables. Validate rejects values the engine cannot use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	BM25       BM25Config       `yaml:"bm25"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// PostgresConfig is only used when the corpus source is "postgres".
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

// DSN returns a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig carries the index.complete notification. An empty broker
// list disables it.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig configures the query result cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CorpusConfig selects where documents are loaded from: "file" reads Path,
// "postgres" runs Query (or the default documents query).
type CorpusConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Query  string `yaml:"query"`
}

type IndexerConfig struct {
	DataDir string `yaml:"dataDir"`
	Workers int    `yaml:"workers"`
}

type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

type ChunkingConfig struct {
	MaxChunkSize int `yaml:"maxChunkSize"`
	Overlap      int `yaml:"overlap"`
}

// EmbeddingConfig selects and bounds the embedding provider. Provider is
// "hash" (local, deterministic) or "openai".
type EmbeddingConfig struct {
	Provider         string        `yaml:"provider"`
	Model            string        `yaml:"model"`
	Dimensions       int           `yaml:"dimensions"`
	APIKey           string        `yaml:"apiKey"`
	BaseURL          string        `yaml:"baseUrl"`
	BatchSize        int           `yaml:"batchSize"`
	Concurrency      int           `yaml:"concurrency"`
	CacheSize        int           `yaml:"cacheSize"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SearchConfig holds query defaults. WindowMultiplier scales how many
// results each source contributes before fusion.
type SearchConfig struct {
	DefaultLimit     int     `yaml:"defaultLimit"`
	MaxResults       int     `yaml:"maxResults"`
	WindowMultiplier int     `yaml:"windowMultiplier"`
	DefaultAlpha     float64 `yaml:"defaultAlpha"`
	RRFK             float64 `yaml:"rrfK"`
}

type EvaluationConfig struct {
	GoldenPath string `yaml:"goldenPath"`
	Limit      int    `yaml:"limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
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
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "hybridsearch",
			User:            "hybridsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "hybrid-searcher",
			Topics:        KafkaTopics{IndexComplete: "index.complete"},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Corpus: CorpusConfig{
			Source: "file",
			Path:   "data/movies.json",
		},
		Indexer: IndexerConfig{
			DataDir: "cache",
		},
		BM25: BM25Config{K1: 1.5, B: 0.75},
		Chunking: ChunkingConfig{
			MaxChunkSize: 4,
			Overlap:      1,
		},
		Embedding: EmbeddingConfig{
			Provider:         "hash",
			Dimensions:       256,
			BatchSize:        64,
			Concurrency:      4,
			CacheSize:        1000,
			Timeout:          30 * time.Second,
			MaxRetries:       3,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:     5,
			MaxResults:       100,
			WindowMultiplier: 500,
			DefaultAlpha:     0.5,
			RRFK:             60,
		},
		Evaluation: EvaluationConfig{
			GoldenPath: "data/golden_dataset.json",
			Limit:      5,
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

// Validate reports the first setting the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Indexer.DataDir == "":
		return errors.New("config: indexer.dataDir must be set")
	case c.BM25.K1 < 0:
		return fmt.Errorf("config: bm25.k1 must be non-negative, got %v", c.BM25.K1)
	case c.BM25.B < 0 || c.BM25.B > 1:
		return fmt.Errorf("config: bm25.b must be in [0,1], got %v", c.BM25.B)
	case c.Chunking.MaxChunkSize < 1:
		return fmt.Errorf("config: chunking.maxChunkSize must be at least 1, got %d", c.Chunking.MaxChunkSize)
	case c.Chunking.Overlap < 0:
		return fmt.Errorf("config: chunking.overlap must be non-negative, got %d", c.Chunking.Overlap)
	case c.Embedding.Provider != "hash" && c.Embedding.Provider != "openai":
		return fmt.Errorf("config: unknown embedding.provider %q", c.Embedding.Provider)
	case c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit:
		return fmt.Errorf("config: search limits invalid (default %d, max %d)", c.Search.DefaultLimit, c.Search.MaxResults)
	case c.Search.WindowMultiplier < 1:
		return fmt.Errorf("config: search.windowMultiplier must be at least 1, got %d", c.Search.WindowMultiplier)
	case c.Search.DefaultAlpha < 0 || c.Search.DefaultAlpha > 1:
		return fmt.Errorf("config: search.defaultAlpha must be in [0,1], got %v", c.Search.DefaultAlpha)
	case c.Search.RRFK <= 0:
		return fmt.Errorf("config: search.rrfK must be positive, got %v", c.Search.RRFK)
	case c.Corpus.Source != "file" && c.Corpus.Source != "postgres":
		return fmt.Errorf("config: unknown corpus.source %q", c.Corpus.Source)
	}
	return nil
}

// applyEnvOverrides reads SP_* variables. Malformed numbers are ignored and
// the previous value kept.
func applyEnvOverrides(cfg *Config) {
	setInt("SP_SERVER_PORT", &cfg.Server.Port)
	setString("SP_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("SP_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("SP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("SP_POSTGRES_USER", &cfg.Postgres.User)
	setString("SP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("SP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("SP_KAFKA_TOPIC_INDEX_COMPLETE", &cfg.Kafka.Topics.IndexComplete)
	setString("SP_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SP_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("SP_CORPUS_SOURCE", &cfg.Corpus.Source)
	setString("SP_CORPUS_PATH", &cfg.Corpus.Path)
	setString("SP_INDEXER_DATA_DIR", &cfg.Indexer.DataDir)
	setInt("SP_INDEXER_WORKERS", &cfg.Indexer.Workers)
	setFloat("SP_BM25_K1", &cfg.BM25.K1)
	setFloat("SP_BM25_B", &cfg.BM25.B)
	setString("SP_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("SP_EMBEDDING_MODEL", &cfg.Embedding.Model)
	setInt("SP_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	setString("SP_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	setString("SP_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	setInt("SP_SEARCH_WINDOW_MULTIPLIER", &cfg.Search.WindowMultiplier)
	setString("SP_EVALUATION_GOLDEN_PATH", &cfg.Evaluation.GoldenPath)
	setString("SP_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("SP_LOGGING_FORMAT", &cfg.Logging.Format)
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

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
