package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Port       string
	DBURL      string
	JWTSecret  string
	CORSOrigin string
	LogLevel   string

	AdminUsername     string
	AdminPasswordHash string

	SnapshotBaseURL  string
	SnapshotMode     string
	SnapshotPageSize int
	SnapshotTimeout  time.Duration
	SnapshotCacheTTL time.Duration

	MirrorQuotaBytes int
	MirrorPath       string

	ImageMaxDimension int
	ImageQuality      int
}

// LoadEnv reads .env (when present) and the process environment. Every
// missing or unparsable key is reported in the returned error.
func LoadEnv() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	var errs error
	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		DBURL:             getEnv("DB_URL", "paperdetails.db"),
		CORSOrigin:        getEnv("CORS_ORIGIN", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SnapshotBaseURL:   getEnv("SNAPSHOT_BASE_URL", ""),
		SnapshotMode:      getEnv("SNAPSHOT_MODE", "paged"),
		MirrorPath:        getEnv("MIRROR_PATH", ""),
	}

	cfg.JWTSecret, errs = mustEnv("JWT_SECRET", errs)
	cfg.SnapshotPageSize, errs = intEnv("SNAPSHOT_PAGE_SIZE", 5, errs)
	cfg.SnapshotTimeout, errs = durationEnv("SNAPSHOT_TIMEOUT", 20*time.Second, errs)
	cfg.SnapshotCacheTTL, errs = durationEnv("SNAPSHOT_CACHE_TTL", time.Hour, errs)
	cfg.MirrorQuotaBytes, errs = intEnv("MIRROR_QUOTA_BYTES", 5<<20, errs)
	cfg.ImageMaxDimension, errs = intEnv("IMAGE_MAX_DIMENSION", 1600, errs)
	cfg.ImageQuality, errs = intEnv("IMAGE_QUALITY", 80, errs)

	if cfg.ImageQuality < 1 || cfg.ImageQuality > 100 {
		errs = multierr.Append(errs, fmt.Errorf("IMAGE_QUALITY must be within 1..100, got %d", cfg.ImageQuality))
	}
	return cfg, errs
}

func mustEnv(key string, errs error) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", multierr.Append(errs, fmt.Errorf("missing required environment variable: %s", key))
	}
	return v, errs
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int, errs error) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback, multierr.Append(errs, fmt.Errorf("%s: want a positive integer, got %q", key, raw))
	}
	return n, errs
}

func durationEnv(key string, fallback time.Duration, errs error) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback, multierr.Append(errs, fmt.Errorf("%s: want a positive duration, got %q", key, raw))
	}
	return d, errs
}
