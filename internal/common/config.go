package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Provider  ProviderConfig
	Raster    RasterConfig
	Pipeline  PipelineConfig
	Sweeper   SweeperConfig
	WorkerNum int
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ProviderConfig holds AI provider configuration. GeminiKeys carries every
// configured credential; the pipeline adapts its backoff policy to how many
// there are.
type ProviderConfig struct {
	GeminiKeys    []string
	GeminiModel   string
	GeminiBaseURL string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	Timeout     time.Duration
	MaxProducts int
}

// RasterConfig holds page rendering configuration
type RasterConfig struct {
	Pdftoppm        string
	PdfInfo         string
	DPI             int
	MaxPages        int
	ScratchRoot     string
	DownloadTimeout time.Duration
}

// PipelineConfig holds extraction orchestration knobs
type PipelineConfig struct {
	PageWorkers    int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	CredentialGap  time.Duration
	JobDeadline    time.Duration
	RateLimitCool  time.Duration
}

// SweeperConfig holds stuck-job sweep configuration
type SweeperConfig struct {
	Interval       time.Duration
	StuckThreshold time.Duration
	// Optional progress band narrowing, disabled by default. The production
	// incident that motivated the sweep showed stalls around 50%, but any
	// over-age processing job is fair game.
	BandLow  int
	BandHigh int
	BandOnly bool

	// Jobs older than this many days are deleted; 0 disables deletion.
	RetentionDays int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Provider: ProviderConfig{
			GeminiKeys:    getEnvAsList("GEMINI_API_KEY", "GEMINI_API_KEY_2", "GEMINI_API_KEY_3"),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Timeout:       getEnvAsDuration("PROVIDER_TIMEOUT", 45*time.Second),
			MaxProducts:   getEnvAsInt("PROVIDER_MAX_PRODUCTS", 10),
		},
		Raster: RasterConfig{
			Pdftoppm:        getEnv("PDFTOPPM", "pdftoppm"),
			PdfInfo:         getEnv("PDFINFO", "pdfinfo"),
			DPI:             getEnvAsInt("RASTER_DPI", 150),
			MaxPages:        getEnvAsInt("RASTER_MAX_PAGES", 0),
			ScratchRoot:     getEnv("SCRATCH_ROOT", "."),
			DownloadTimeout: getEnvAsDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			PageWorkers:   getEnvAsInt("PAGE_WORKERS", 2),
			MaxAttempts:   getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
			BaseDelay:     getEnvAsDuration("PROVIDER_BASE_DELAY", 5*time.Second),
			MaxDelay:      getEnvAsDuration("PROVIDER_MAX_DELAY", 30*time.Second),
			CredentialGap: getEnvAsDuration("CREDENTIAL_GAP", 2*time.Second),
			JobDeadline:   getEnvAsDuration("JOB_DEADLINE", 20*time.Minute),
			RateLimitCool: getEnvAsDuration("RATE_LIMIT_COOLDOWN", 30*time.Second),
		},
		Sweeper: SweeperConfig{
			Interval:       getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
			StuckThreshold: getEnvAsDuration("STUCK_THRESHOLD", 15*time.Minute),
			BandLow:        getEnvAsInt("STUCK_BAND_LOW", 40),
			BandHigh:       getEnvAsInt("STUCK_BAND_HIGH", 60),
			BandOnly:       getEnvAsBool("STUCK_BAND_ONLY", false),
			RetentionDays:  getEnvAsInt("JOB_RETENTION_DAYS", 0),
		},
		WorkerNum: getEnvAsInt("JOB_WORKERS", 2),
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if len(c.Provider.GeminiKeys) == 0 {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Pipeline.PageWorkers < 1 {
		return NewAppError("CONFIG_ERROR", "PAGE_WORKERS must be >= 1", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList collects the non-empty values of a family of env vars,
// trimming whitespace. Used for credential pools.
func getEnvAsList(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
