package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DEFAULT_HTTP_TIMEOUT_SEC     = 30
	DEFAULT_TRANSFER_TIMEOUT_SEC = 3600
	DEFAULT_STREAM_TIMEOUT_SEC   = 30
)

var ErrMissingBaseURL = errors.New("COMPOSITE_BASE_URL is not set")

// Load reads .env (best effort) and the process environment.
func Load() (*UploaderConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables", "err", err)
	}

	cfg := &UploaderConfig{
		CompositeBaseURL: strings.TrimRight(getEnv("COMPOSITE_BASE_URL", ""), "/"),
		AuthToken:        getEnv("AUTH_TOKEN", ""),
		RegistrarMode:    strings.ToLower(getEnv("REGISTRAR_MODE", RegistrarModeHTTP)),
		HTTPTimeout:      getEnvAsSeconds("HTTP_TIMEOUT_SEC", DEFAULT_HTTP_TIMEOUT_SEC),
		TransferTimeout:  getEnvAsSeconds("TRANSFER_TIMEOUT_SEC", DEFAULT_TRANSFER_TIMEOUT_SEC),
		Defaults: DefaultsConfig{
			OfferingID:   getEnv("DEFAULT_OFFERING_ID", ""),
			ProfessorUNI: getEnv("DEFAULT_PROF_UNI", ""),
		},
		Watch: WatchConfig{
			Path:          getEnv("WATCH_PATH", ""),
			StreamTimeout: getEnvAsSeconds("STREAM_TIMEOUT_SEC", DEFAULT_STREAM_TIMEOUT_SEC),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Minio: MinioConfig{
			Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:  getEnv("MINIO_SECRET_KEY", ""),
			UseSSL:     getEnvAsBool("MINIO_USE_SSL", false),
			Bucket:     getEnv("MINIO_BUCKET", "lecture-videos"),
			Region:     getEnv("MINIO_REGION", "us-east-1"),
			PresignTTL: getEnvAsDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
		},
		AMQP: AMQPConfig{
			URL:   getEnv("AMQP_URL", ""),
			Queue: getEnv("AMQP_QUEUE", "video_uploaded"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			MetricsPort: getEnv("METRICS_PORT", "2112"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *UploaderConfig) validate() error {
	switch c.RegistrarMode {
	case RegistrarModeHTTP:
		if c.CompositeBaseURL == "" {
			return ErrMissingBaseURL
		}
	case RegistrarModeMinio:
		if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
			return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required in minio mode")
		}
	default:
		return fmt.Errorf("REGISTRAR_MODE %q is not supported", c.RegistrarMode)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsSeconds(key string, fallback int) time.Duration {
	seconds := getEnvAsInt(key, fallback)
	if seconds <= 0 {
		slog.Warn("Non-positive timeout, using default", "key", key, "default", fallback)
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
