package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	DatabaseURL     string
	Env             string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	NATSURL     string
	NATSSubject string

	ProviderOrder     []string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string

	ProviderTimeout       time.Duration
	MaxRetriesPerProvider int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration

	MaxConcurrentJobs int
	JobPollInterval   time.Duration
	StageRetryLimit   int
	ProgressCacheTTL  time.Duration
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		Env:             env,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_PROGRESS_SUBJECT", "bookforge.generation.progress"),

		ProviderOrder:     splitAndTrim(getEnv("LLM_PROVIDERS", "openai,openrouter,gemini")),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", ""),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		ProviderTimeout:       getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		MaxRetriesPerProvider: getEnvInt("LLM_MAX_RETRIES_PER_PROVIDER", 3),
		RetryBaseDelay:        getEnvDuration("LLM_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:         getEnvDuration("LLM_RETRY_MAX_DELAY", 30*time.Second),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		JobPollInterval:   getEnvDuration("JOB_POLL_INTERVAL", 2*time.Second),
		StageRetryLimit:   getEnvInt("STAGE_RETRY_LIMIT", 1),
		ProgressCacheTTL:  getEnvDuration("PROGRESS_CACHE_TTL", 30*time.Second),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
