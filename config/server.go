package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPersona is the system message used when a chat request does not bring its own.
const DefaultPersona = "You are Pointer, a concise and helpful assistant. Answer the user's question directly, " +
	"use any provided context when it is relevant, and say so when you do not know."

// ServerConfig holds everything the backend server reads from the environment.
type ServerConfig struct {
	Port      string
	APISecret string
	GinMode   string
	LogLevel  string
	LogFile   string

	Chat      ModelConfig
	Embedding ModelConfig

	GeminiAPIKey string
	OllamaURL    string

	VectorStore      string // chroma, sqlite, memory
	ChromaURL        string
	ChromaCollection string
	SQLitePath       string

	ChunkSize     int
	ChunkOverlap  int
	ChunkStrategy string // window, recursive
	DefaultTopK   int
	SystemPrompt  string

	WatchDir         string
	UnidocLicenseKey string

	RateLimitRPS   float64
	RateLimitBurst int
	EmbedCacheTTL  time.Duration
}

// ModelConfig selects a provider and a model name.
type ModelConfig struct {
	Provider string // gemini, ollama
	Model    string
}

// LoadServer reads the backend configuration, loading a .env file first when one exists.
func LoadServer() *ServerConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &ServerConfig{
		Port:      getEnv("PORT", "8787"),
		APISecret: getEnv("API_SECRET", ""),
		GinMode:   getEnv("GIN_MODE", "release"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		Chat: ModelConfig{
			Provider: strings.ToLower(getEnv("CHAT_PROVIDER", "ollama")),
			Model:    getEnv("CHAT_MODEL", ""),
		},
		Embedding: ModelConfig{
			Provider: strings.ToLower(getEnv("EMBED_PROVIDER", "ollama")),
			Model:    getEnv("EMBED_MODEL", ""),
		},
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OllamaURL:        strings.TrimRight(getEnv("OLLAMA_URL", "http://localhost:11434"), "/"),
		VectorStore:      strings.ToLower(getEnv("VECTOR_STORE", "sqlite")),
		ChromaURL:        getEnv("CHROMA_URL", "http://localhost:8000"),
		ChromaCollection: getEnv("CHROMA_COLLECTION", "pointer-memory"),
		SQLitePath:       getEnv("SQLITE_PATH", "pointer-memory.db"),
		ChunkSize:        getEnvAsInt("CHUNK_SIZE", 512),
		ChunkOverlap:     getEnvAsInt("CHUNK_OVERLAP", 64),
		ChunkStrategy:    strings.ToLower(getEnv("CHUNK_STRATEGY", "window")),
		DefaultTopK:      getEnvAsInt("DEFAULT_TOP_K", 5),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", DefaultPersona),
		WatchDir:         getEnv("WATCH_DIR", ""),
		UnidocLicenseKey: getEnv("UNIDOC_LICENSE_KEY", ""),
		RateLimitRPS:     getEnvAsFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 20),
		EmbedCacheTTL:    getEnvAsDuration("EMBED_CACHE_TTL", 10*time.Minute),
	}

	if cfg.Chat.Model == "" {
		cfg.Chat.Model = defaultChatModel(cfg.Chat.Provider)
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaultEmbeddingModel(cfg.Embedding.Provider)
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 5
	}
	return cfg
}

func defaultChatModel(provider string) string {
	if provider == "gemini" {
		return "gemini-2.5-flash"
	}
	return "llama3.2"
}

func defaultEmbeddingModel(provider string) string {
	if provider == "gemini" {
		return "text-embedding-004"
	}
	return "nomic-embed-text:v1.5"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
