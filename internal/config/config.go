package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`
	LLM      LLMConfig      `toml:"llm"`
	Embed    EmbedConfig    `toml:"embed"`
	Vector   VectorConfig   `toml:"vector"`
	RAG      RAGConfig      `toml:"rag"`
	Session  SessionConfig  `toml:"session"`
	Redis    RedisConfig    `toml:"redis"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
	Archive  ArchiveConfig  `toml:"archive"`
}

type AppConfig struct {
	Name          string  `toml:"name"`
	Env           string  `toml:"env"`
	Host          string  `toml:"host"`
	Port          int     `toml:"port"`
	GinMode       string  `toml:"gin_mode"`
	ChatRateLimit float64 `toml:"chat_rate_limit"`
	ChatRateBurst int     `toml:"chat_rate_burst"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type AdminConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	JWTExpireMinute int    `toml:"jwt_expire_minute"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	RemoteURL      string `toml:"remote_url"`
	LocalURL       string `toml:"local_url"`
	LocalModelPath string `toml:"local_model_path"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type EmbedConfig struct {
	Provider  string `toml:"provider"`
	ModelName string `toml:"model_name"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	BatchSize int    `toml:"batch_size"`
	Dimension int    `toml:"dimension"`
	CacheDir  string `toml:"cache_dir"`
}

type VectorConfig struct {
	DSN        string `toml:"dsn"`
	Collection string `toml:"collection"`
}

type RAGConfig struct {
	DataPath          string   `toml:"data_path"`
	TopK              int      `toml:"top_k"`
	ChunkSize         int      `toml:"chunk_size"`
	ChunkOverlap      int      `toml:"chunk_overlap"`
	HistoryTokenLimit int      `toml:"history_token_budget"`
	SkipKeys          []string `toml:"skip_keys"`
}

type SessionConfig struct {
	Store      string `toml:"store"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type RabbitMQConfig struct {
	URL          string `toml:"url"`
	ArchiveQueue string `toml:"archive_queue"`
}

type ArchiveConfig struct {
	DSN string `toml:"dsn"`
}

func Load() (*Config, error) {
	cfg := Default()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// ResolvedLLMProvider applies the auto-detection rule: an explicit provider
// wins, otherwise a configured remote endpoint selects remote.
func (c *Config) ResolvedLLMProvider() string {
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case ProviderLocal:
		return ProviderLocal
	case ProviderRemote:
		return ProviderRemote
	}
	if strings.TrimSpace(c.LLM.RemoteURL) != "" {
		return ProviderRemote
	}
	return ProviderLocal
}

func (c *Config) Validate() error {
	if c.RAG.TopK < 1 {
		return fmt.Errorf("%w: RAG_TOP_K must be >= 1, got %d", ErrInvalidConfig, c.RAG.TopK)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: RAG_CHUNK_SIZE must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: RAG_CHUNK_OVERLAP must be in [0, chunk size)", ErrInvalidConfig)
	}
	switch c.Session.Store {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("%w: unknown session store %q", ErrInvalidConfig, c.Session.Store)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", ProviderLocal, ProviderRemote:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.ResolvedLLMProvider() == ProviderRemote && c.LLM.RemoteURL == "" {
		return fmt.Errorf("%w: REMOTE_LLM_URL is required for the remote provider", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Vector.DSN) == "" {
		return fmt.Errorf("%w: VECTOR_STORE_DSN is empty", ErrInvalidConfig)
	}
	return nil
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:          "mapleportal",
			Env:           "dev",
			Host:          "0.0.0.0",
			Port:          8080,
			GinMode:       "debug",
			ChatRateLimit: 5,
			ChatRateBurst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Admin: AdminConfig{
			JWTSecret:       "change-me-in-production",
			JWTExpireMinute: 60,
		},
		LLM: LLMConfig{
			LocalURL:       "http://127.0.0.1:8000/v1",
			LocalModelPath: "models/maple-npc-7b",
			TimeoutSeconds: 60,
		},
		Embed: EmbedConfig{
			Provider:  "openai",
			ModelName: "jhgan/ko-sroberta-multitask",
			BaseURL:   "http://127.0.0.1:8081/v1",
			BatchSize: 32,
			Dimension: 768,
			CacheDir:  "local_cache",
		},
		Vector: VectorConfig{
			DSN:        "memory://",
			Collection: "maple_knowledge",
		},
		RAG: RAGConfig{
			DataPath:          "data/rag",
			TopK:              3,
			ChunkSize:         500,
			ChunkOverlap:      50,
			HistoryTokenLimit: 2048,
		},
		Session: SessionConfig{
			Store:      SessionStoreMemory,
			TTLSeconds: 24 * 60 * 60,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		RabbitMQ: RabbitMQConfig{
			ArchiveQueue: "chat.message.archive",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.ChatRateLimit = getEnvAsFloat("CHAT_RATE_LIMIT", cfg.App.ChatRateLimit)
	cfg.App.ChatRateBurst = getEnvAsInt("CHAT_RATE_BURST", cfg.App.ChatRateBurst)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Admin.JWTSecret = getEnv("ADMIN_JWT_SECRET", cfg.Admin.JWTSecret)
	cfg.Admin.JWTExpireMinute = getEnvAsInt("ADMIN_JWT_EXPIRE_MINUTE", cfg.Admin.JWTExpireMinute)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.RemoteURL = getEnv("REMOTE_LLM_URL", cfg.LLM.RemoteURL)
	cfg.LLM.LocalURL = getEnv("LOCAL_LLM_URL", cfg.LLM.LocalURL)
	cfg.LLM.LocalModelPath = getEnv("LOCAL_MODEL_PATH", cfg.LLM.LocalModelPath)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.Embed.Provider = getEnv("EMBED_PROVIDER", cfg.Embed.Provider)
	cfg.Embed.ModelName = getEnv("EMBED_MODEL_NAME", cfg.Embed.ModelName)
	cfg.Embed.BaseURL = getEnv("EMBED_BASE_URL", cfg.Embed.BaseURL)
	cfg.Embed.APIKey = getEnv("EMBED_API_KEY", cfg.Embed.APIKey)
	cfg.Embed.BatchSize = getEnvAsInt("EMBED_BATCH_SIZE", cfg.Embed.BatchSize)
	cfg.Embed.Dimension = getEnvAsInt("EMBED_DIMENSION", cfg.Embed.Dimension)
	cfg.Embed.CacheDir = getEnv("EMBED_CACHE_DIR", cfg.Embed.CacheDir)

	cfg.Vector.DSN = getEnv("VECTOR_STORE_DSN", cfg.Vector.DSN)
	cfg.Vector.Collection = getEnv("VECTOR_COLLECTION", cfg.Vector.Collection)

	cfg.RAG.DataPath = getEnv("RAG_DATA_PATH", cfg.RAG.DataPath)
	cfg.RAG.TopK = getEnvAsInt("RAG_TOP_K", cfg.RAG.TopK)
	cfg.RAG.ChunkSize = getEnvAsInt("RAG_CHUNK_SIZE", cfg.RAG.ChunkSize)
	cfg.RAG.ChunkOverlap = getEnvAsInt("RAG_CHUNK_OVERLAP", cfg.RAG.ChunkOverlap)
	cfg.RAG.HistoryTokenLimit = getEnvAsInt("RAG_HISTORY_TOKEN_BUDGET", cfg.RAG.HistoryTokenLimit)
	cfg.RAG.SkipKeys = getEnvAsList("RAG_SKIP_KEYS", cfg.RAG.SkipKeys)

	cfg.Session.Store = getEnv("SESSION_STORE", cfg.Session.Store)
	cfg.Session.TTLSeconds = getEnvAsInt("SESSION_TTL_SECONDS", cfg.Session.TTLSeconds)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.ArchiveQueue = getEnv("RABBITMQ_ARCHIVE_QUEUE", cfg.RabbitMQ.ArchiveQueue)

	cfg.Archive.DSN = getEnv("ARCHIVE_DSN", cfg.Archive.DSN)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsList reads a comma separated list; an empty value keeps the fallback.
func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
