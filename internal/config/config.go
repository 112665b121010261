package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all environment-driven settings.
type Config struct {
	Port string `env:"PORT" env-default:"8090"`

	// Record store and uploaded file storage.
	DatabasePath string `env:"DATABASE_PATH" env-default:"timeliner.db"`
	UploadDir    string `env:"UPLOAD_DIR"    env-default:"uploads"`

	// Auth
	JWTSecret string `env:"JWT_SECRET"`

	// Extraction backend. With no API key the deterministic mock is used.
	GroqAPIKey string `env:"GROQ_API_KEY"`
	LLMModel   string `env:"LLM_MODEL" env-default:"llama-3.1-8b-instant"`

	// Worker pool
	WorkerCount          int `env:"WORKER_COUNT"           env-default:"4"`
	MaxQueueSize         int `env:"MAX_QUEUE_SIZE"         env-default:"100"`
	MaxConcurrentExtract int `env:"MAX_CONCURRENT_EXTRACT" env-default:"5"`
	ExtractMaxRetries    int `env:"EXTRACT_MAX_RETRIES"    env-default:"3"`

	// Upload limits
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" env-default:"52428800"` // 50MB

	// Chunking
	ChunkSize int `env:"CHUNK_SIZE" env-default:"10000"`

	// PDF
	PDFFallbackPdftotext bool `env:"PDF_FALLBACK_PDFTOTEXT" env-default:"true"`

	// CORS
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 5
	}
	if cfg.ExtractMaxRetries <= 0 {
		cfg.ExtractMaxRetries = 3
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10000
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}
