package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Embedding provider identifiers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config holds all process-level configuration values.
type Config struct {
	// OpenSearch connection
	SearchAddresses []string
	SearchUsername  string
	SearchPassword  string
	SearchInsecure  bool

	// Metadata store (jobs, partitions, catalog)
	DatabasePath string

	// Embedding
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string
	OpenAIAPIKey   string

	// HTTP server
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return Config{
		SearchAddresses: splitAndTrim(getEnv("REINDEXER_SEARCH_ADDRESSES", "http://localhost:9200")),
		SearchUsername:  getEnv("REINDEXER_SEARCH_USERNAME", ""),
		SearchPassword:  getEnv("REINDEXER_SEARCH_PASSWORD", ""),
		SearchInsecure:  getEnv("REINDEXER_SEARCH_INSECURE", "false") == "true",

		DatabasePath: getEnv("REINDEXER_DB_PATH", "reindexer.db"),

		EmbedProvider:  getEnv("REINDEXER_EMBED_PROVIDER", ProviderOllama),
		EmbedModel:     getEnv("REINDEXER_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("REINDEXER_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		ServerPort: getEnv("REINDEXER_SERVER_PORT", "8585"),

		LogFile:  getEnv("REINDEXER_LOG_FILE", "/tmp/reindexer.log"),
		LogLevel: parseLogLevel(getEnv("REINDEXER_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
