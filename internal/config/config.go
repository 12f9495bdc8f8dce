package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentplane/agentplane/internal/domain"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Tasks    TaskConfig
	Worker   WorkerConfig
	Tiers    map[domain.SubscriptionTier]domain.TierLimits
}

type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SigningKey         string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

type AuthConfig struct {
	MaxFailedLogins int
	LockDuration    time.Duration
	InvitationTTL   time.Duration
}

type TaskConfig struct {
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	QuotaWindow    time.Duration
	QuotaDeferral  time.Duration
}

type WorkerConfig struct {
	Count        int
	PollInterval time.Duration
	ReapInterval time.Duration
}

func Load() (*Config, error) {
	// .env is optional in production
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "agentplane"),
			Password: getEnv("DB_PASSWORD", "agentplane"),
			DBName:   getEnv("DB_NAME", "agentplane"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SigningKey:         getEnv("JWT_SIGNING_KEY", ""),
			AccessTokenExpiry:  getDurationEnv("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			Issuer:             getEnv("JWT_ISSUER", "agentplane"),
		},
		Auth: AuthConfig{
			MaxFailedLogins: getIntEnv("AUTH_MAX_FAILED_LOGINS", 5),
			LockDuration:    getDurationEnv("AUTH_LOCK_DURATION", 15*time.Minute),
			InvitationTTL:   getDurationEnv("AUTH_INVITATION_TTL", 72*time.Hour),
		},
		Tasks: TaskConfig{
			RetryBaseDelay: getDurationEnv("TASK_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:  getDurationEnv("TASK_RETRY_MAX_DELAY", 5*time.Minute),
			QuotaWindow:    getDurationEnv("TASK_QUOTA_WINDOW", time.Hour),
			QuotaDeferral:  getDurationEnv("TASK_QUOTA_DEFERRAL", time.Minute),
		},
		Worker: WorkerConfig{
			Count:        getIntEnv("WORKER_COUNT", 4),
			PollInterval: getDurationEnv("WORKER_POLL_INTERVAL", time.Second),
			ReapInterval: getDurationEnv("WORKER_REAP_INTERVAL", 5*time.Second),
		},
		Tiers: tierLimits(),
	}

	if cfg.JWT.SigningKey == "" {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is required")
	}

	return cfg, nil
}

// tierLimits starts from the domain defaults and applies any per-tier env
// overrides, e.g. QUOTA_FREE_MAX_TASKS_PER_HOUR.
func tierLimits() map[domain.SubscriptionTier]domain.TierLimits {
	limits := make(map[domain.SubscriptionTier]domain.TierLimits, len(domain.DefaultTierLimits))
	for tier, def := range domain.DefaultTierLimits {
		prefix := "QUOTA_" + strings.ToUpper(string(tier))
		limits[tier] = domain.TierLimits{
			MaxAgents:       getIntEnv(prefix+"_MAX_AGENTS", def.MaxAgents),
			MaxTasksPerHour: getIntEnv(prefix+"_MAX_TASKS_PER_HOUR", def.MaxTasksPerHour),
		}
	}
	return limits
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
