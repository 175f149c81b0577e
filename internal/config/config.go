package config

import (
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	Environment string

	// Chunk Store Configuration
	ChunkStoragePath    string
	ChunkSizeMax        int64
	InlineMax           int64
	MaxChunksPerSession int

	// Erasure Coding Configuration
	ErasureDataShards   int
	ErasureParityShards int

	// Session Manager Configuration
	SessionIdleTTL time.Duration
	IdemRetention  time.Duration

	// Backpressure
	UploadRateLimitPerSecond float64
}

func Load() (*Config, error) {
	// Use the centralized environment loader
	LoadEnvOnce()

	chunkSizeMax, _ := strconv.ParseInt(GetEnvWithFallback("CHUNK_SIZE_MAX", "1800000"), 10, 64)
	inlineMax, _ := strconv.ParseInt(GetEnvWithFallback("INLINE_MAX", "32768"), 10, 64)
	maxChunks, _ := strconv.Atoi(GetEnvWithFallback("MAX_CHUNKS_PER_SESSION", "16384"))
	dataShards, _ := strconv.Atoi(GetEnvWithFallback("ERASURE_DATA_SHARDS", "4"))
	parityShards, _ := strconv.Atoi(GetEnvWithFallback("ERASURE_PARITY_SHARDS", "2"))
	sessionIdleMinutes, _ := strconv.Atoi(GetEnvWithFallback("SESSION_IDLE_TTL_MINUTES", "30"))
	idemRetentionMinutes, _ := strconv.Atoi(GetEnvWithFallback("IDEM_RETENTION_MINUTES", "60"))
	uploadRateLimit, _ := strconv.ParseFloat(GetEnvWithFallback("UPLOAD_RATE_LIMIT_PER_SECOND", "50"), 64)

	return &Config{
		Port:        GetEnvWithFallback("PORT", "8080"),
		DatabaseURL: GetEnvWithFallback("DATABASE_URL", "postgresql://localhost:5432/capsulecore?sslmode=disable"),
		RedisURL:    GetEnvWithFallback("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:   GetEnvWithFallback("JWT_SECRET", "your-secret-key"),
		Environment: GetEnvWithFallback("ENVIRONMENT", "development"),

		ChunkStoragePath:    GetEnvWithFallback("CHUNK_STORAGE_PATH", "./data/chunks"),
		ChunkSizeMax:        chunkSizeMax,
		InlineMax:           inlineMax,
		MaxChunksPerSession: maxChunks,

		ErasureDataShards:   dataShards,
		ErasureParityShards: parityShards,

		SessionIdleTTL: time.Duration(sessionIdleMinutes) * time.Minute,
		IdemRetention:  time.Duration(idemRetentionMinutes) * time.Minute,

		UploadRateLimitPerSecond: uploadRateLimit,
	}, nil
}
