package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/store"
)

const (
	VectorBackendChromem  = "chromem"
	VectorBackendPgVector = "pgvector"

	DriverSQLite   = store.DriverSQLite
	DriverPostgres = store.DriverPostgres
)

type Config struct {
	GeminiAPIKey   string
	GeminiBaseURL  string
	ChatModel      string
	TitleModel     string
	EmbeddingModel string

	DatabaseDriver string
	DatabaseURL    string

	VectorBackend   string
	VectorStorePath string
	RedisURL        string

	HTTPPort  string
	LogLevel  string
	LogFormat string
	JWTSecret string

	// GenerationTimeout bounds a single attempt against the generation API,
	// not the whole retry sequence.
	GenerationTimeout    time.Duration
	ReindexRatePerMinute int
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		ChatModel:      getEnv("CHAT_MODEL", "gemini-2.0-flash"),
		TitleModel:     getEnv("TITLE_MODEL", "gemini-2.0-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", DriverSQLite),
		DatabaseURL:    getEnv("DATABASE_URL", "companion.db"),

		VectorBackend:   getEnv("VECTOR_BACKEND", VectorBackendChromem),
		VectorStorePath: getEnv("VECTOR_STORE_PATH", "data/vectors"),
		RedisURL:        getEnv("REDIS_URL", ""),

		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		GenerationTimeout:    time.Duration(getEnvAsInt("GENERATION_TIMEOUT_SECONDS", 20)) * time.Second,
		ReindexRatePerMinute: getEnvAsInt("REINDEX_RATE_PER_MINUTE", 1500),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.New("DATABASE_DRIVER must be sqlite3 or postgres")
	}
	switch c.VectorBackend {
	case VectorBackendChromem:
	case VectorBackendPgVector:
		if c.DatabaseDriver != DriverPostgres {
			return errors.New("VECTOR_BACKEND=pgvector requires DATABASE_DRIVER=postgres")
		}
	default:
		return errors.New("VECTOR_BACKEND must be chromem or pgvector")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT_SECONDS must be positive")
	}
	if c.ReindexRatePerMinute <= 0 {
		return errors.New("REINDEX_RATE_PER_MINUTE must be positive")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
