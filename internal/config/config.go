package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const placeholderAPIKey = "your_gemini_api_key_here"

type Config struct {
	GeminiAPIKey   string
	LLMModel       string
	EmbeddingModel string

	DatabaseURL    string
	CollectionName string

	ChunkSize    int
	ChunkOverlap int
	MaxChunkSize int

	Host           string
	Port           string
	Debug          bool
	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration

	MaxFileSize   int64
	DocumentsPath string
	DataPath      string

	LogLevel       string
	JWTSecret      string
	RedisURL       string
	CacheTTL       time.Duration
	IngestSchedule string
}

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:8080",
	"http://127.0.0.1:8080",
}

// LoadConfig reads a .env file when present and then the process environment.
// A missing Gemini key is not fatal: the server answers with retrieval only.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gemini-1.5-flash-latest"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		DatabaseURL:    getEnv("DATABASE_URL", "./data/rag_chatbot.db"),
		CollectionName: getEnv("COLLECTION_NAME", "documents"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
		MaxChunkSize:   getEnvAsInt("MAX_CHUNK_SIZE", 2000),
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnv("PORT", "8000"),
		Debug:          getEnvAsBool("DEBUG", true),
		Env:            getEnv("ENV", "development"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", defaultAllowedOrigins),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxFileSize:    int64(getEnvAsInt("MAX_FILE_SIZE", 50000000)),
		DocumentsPath:  getEnv("DOCUMENTS_PATH", "./documents"),
		DataPath:       getEnv("DATA_PATH", "./data"),
		LogLevel:       strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		CacheTTL:       time.Duration(getEnvAsInt("CACHE_TTL_SECONDS", 600)) * time.Second,
		IngestSchedule: getEnv("INGEST_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the chunking parameters. Overlap must be strictly smaller than the
// chunk size or the chunker would never advance.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("CHUNK_OVERLAP must not be negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.MaxChunkSize > 0 && c.ChunkSize > c.MaxChunkSize {
		return fmt.Errorf("CHUNK_SIZE (%d) exceeds MAX_CHUNK_SIZE (%d)", c.ChunkSize, c.MaxChunkSize)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// HasValidAPIKey reports whether a usable Gemini key is configured.
func (c *Config) HasValidAPIKey() bool {
	return c.GeminiAPIKey != "" && c.GeminiAPIKey != placeholderAPIKey
}

// ActiveLLMProvider returns "gemini" when answers can be generated, "none" otherwise.
func (c *Config) ActiveLLMProvider() string {
	if c.HasValidAPIKey() && strings.Contains(strings.ToLower(c.LLMModel), "gemini") {
		return "gemini"
	}
	return "none"
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(valueStr, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
