package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the typed process configuration, read once at startup.
type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogLevel    string

	JWTSecret      string
	JWTTTL         time.Duration
	ServiceRoleKey string

	AdminEmail       string
	AdminPassword    string
	AdminFunctionURL string

	RedisURL string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	InvitationTTL           time.Duration
	InvitationPurgeSchedule string
	InvitationRetention     time.Duration

	RoleCacheSize  int
	MetricsEnabled bool
}

func Load() (Config, error) {
	port := envString("HTTP_PORT", "8080")
	cfg := Config{
		HTTPPort:    port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    envString("LOG_LEVEL", "info"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTTTL:         envDuration("JWT_EXPIRES_IN", 24*time.Hour),
		ServiceRoleKey: os.Getenv("SERVICE_ROLE_KEY"),

		AdminEmail:       strings.ToLower(envString("ADMIN_EMAIL", "admin@pentestdesk.local")),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		AdminFunctionURL: envString("ADMIN_FUNCTION_URL", "http://localhost:"+port+"/functions/v1/admin-users"),

		RedisURL: os.Getenv("REDIS_URL"),

		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Region:          envString("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),

		InvitationTTL:           envDuration("INVITATION_TTL", 7*24*time.Hour),
		InvitationPurgeSchedule: envString("INVITATION_PURGE_SCHEDULE", "@daily"),
		InvitationRetention:     envDuration("INVITATION_RETENTION", 30*24*time.Hour),

		RoleCacheSize:  envInt("ROLE_CACHE_SIZE", 1024),
		MetricsEnabled: envBool("METRICS_ENABLED", true),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is empty"))
	}
	if c.ServiceRoleKey == "" {
		errs = append(errs, errors.New("SERVICE_ROLE_KEY is empty"))
	}
	if c.RoleCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("ROLE_CACHE_SIZE must be positive, got %d", c.RoleCacheSize))
	}
	return errors.Join(errs...)
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if s := os.Getenv(name); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if s := strings.TrimSpace(os.Getenv(name)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
