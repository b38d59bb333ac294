package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies environment overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("ACHIEVEMENTS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if logLevel := os.Getenv("ACHIEVEMENTS_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if rl := os.Getenv("ACHIEVEMENTS_RATE_LIMIT"); rl != "" {
		if v, err := strconv.ParseFloat(rl, 64); err == nil {
			cfg.Server.RateLimit = v
		}
	}
	setDuration(&cfg.Server.RequestTimeout, "ACHIEVEMENTS_REQUEST_TIMEOUT")

	// Object store
	cfg.Storage.Endpoint = GetEnvOrDefault("S3_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.Region = GetEnvOrDefault("S3_REGION", cfg.Storage.Region)
	cfg.Storage.Bucket = GetEnvOrDefault("S3_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.AccessKey = GetEnvOrDefault("S3_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = GetEnvOrDefault("S3_SECRET_KEY", cfg.Storage.SecretKey)
	setBool(&cfg.Storage.UsePathStyle, "S3_USE_PATH_STYLE")
	setBool(&cfg.Storage.InsecureSkipVerify, "S3_INSECURE_SKIP_VERIFY")
	setBool(&cfg.Storage.CreateBucket, "S3_CREATE_BUCKET")

	// Grants
	setDuration(&cfg.Grants.UploadTTL, "ACHIEVEMENTS_UPLOAD_TTL")
	setDuration(&cfg.Grants.DownloadTTL, "ACHIEVEMENTS_DOWNLOAD_TTL")
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("90s") or plain seconds ("3600").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
