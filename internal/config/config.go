package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           int
	DatabaseURL    string
	LogLevel       string
	NatsURL        string
	NatsToken      string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	ChunkStoreURL  string
	RegistryURL    string
	Workers        int
	RateCapacity   int
	RateRefill     float64
	AcquireTimeout time.Duration
	JobTimeout     time.Duration
	CallTimeout    time.Duration
	StepBuffer     int
	NotifyEnabled  bool
}

func Load() Config {
	return Config{
		Port:           envInt("LOOM_PORT", 8760),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		OpenAIAPIKey:   envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:    envStr("LOOM_MODEL", "gpt-4o-mini"),
		ChunkStoreURL:  envStr("CHUNK_STORE_URL", "http://chunkstore:8700"),
		RegistryURL:    envStr("REGISTRY_URL", "http://registry:8701"),
		Workers:        envInt("LOOM_WORKERS", 4),
		RateCapacity:   envInt("LOOM_RATE_CAPACITY", 90000),
		RateRefill:     envFloat("LOOM_RATE_REFILL", 1500),
		AcquireTimeout: envDur("LOOM_RATE_TIMEOUT", 30*time.Second),
		JobTimeout:     envDur("LOOM_JOB_TIMEOUT", 30*time.Minute),
		CallTimeout:    envDur("LOOM_CALL_TIMEOUT", 2*time.Minute),
		StepBuffer:     envInt("LOOM_STEP_BUFFER", 256),
		NotifyEnabled:  envBool("LOOM_NOTIFY", true),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
