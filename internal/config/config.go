package config

import (
	"os"
	"strconv"
	"time"
)

// Worker and provider settings, all environment-tunable.
type Config struct {
	Port string

	TickInterval    time.Duration // how often the worker scans for running campaigns
	BatchSize       int           // items leased (and dispatched in parallel) per campaign per tick
	BatchesPerSec   float64       // provider pacing between batches
	DefaultRegion   string        // region hint for national phone numbers
	AMQPURL         string        // conversation history exchange; empty disables the sink
	VoiceAPIURL     string
	MessagingAPIURL string
	ProviderAPIKey  string
}

func Load() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		TickInterval:    getDuration("WORKER_TICK_INTERVAL", 5*time.Second),
		BatchSize:       getInt("WORKER_BATCH_SIZE", 10),
		BatchesPerSec:   getFloat("WORKER_BATCHES_PER_SEC", 1.0),
		DefaultRegion:   getEnv("PHONE_DEFAULT_REGION", "US"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		VoiceAPIURL:     getEnv("VOICE_API_URL", "https://api.voiceprovider.example"),
		MessagingAPIURL: getEnv("MESSAGING_API_URL", "https://api.msgprovider.example"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
