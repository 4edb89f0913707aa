package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIBase   string
	OpenAIModel  string

	Port      string
	JWTSecret string
	LogLevel  string

	WorkerSweepInterval time.Duration
	WorkerPoolSize      int

	ChunkSessionTTL  time.Duration
	ChunkSweepEvery  time.Duration
	ArchiveSyncLimit int
	ArchiveJobTTL    time.Duration
	ArchiveJobSweep  time.Duration
	ReaperMaxAge     time.Duration
	ReaperInterval   time.Duration
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "labpipe-reports"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIBase:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		WorkerSweepInterval: getEnvDuration("WORKER_SWEEP_INTERVAL", 30*time.Second),
		WorkerPoolSize:      getEnvInt("WORKER_POOL_SIZE", 4),

		ChunkSessionTTL:  getEnvDuration("CHUNK_SESSION_TTL", 30*time.Minute),
		ChunkSweepEvery:  getEnvDuration("CHUNK_SWEEP_INTERVAL", 5*time.Minute),
		ArchiveSyncLimit: getEnvInt("ARCHIVE_SYNC_LIMIT", 25),
		ArchiveJobTTL:    getEnvDuration("ARCHIVE_JOB_TTL", time.Hour),
		ArchiveJobSweep:  getEnvDuration("ARCHIVE_JOB_SWEEP_INTERVAL", 10*time.Minute),
		ReaperMaxAge:     getEnvDuration("REAPER_MAX_AGE", 24*time.Hour),
		ReaperInterval:   getEnvDuration("REAPER_INTERVAL", 6*time.Hour),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
