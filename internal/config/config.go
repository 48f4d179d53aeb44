package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	SQLitePath  string
	DatabaseURL string

	JWTSecret          string
	AccessTokenMinutes int

	IdentityBaseURL string
	RedisURL        string
	ProfileCacheTTL time.Duration

	CORSOrigins []string
	ReadTimeout time.Duration
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		AppName: getEnv("APP_NAME", "marketchat"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		SQLitePath:  getEnv("SQLITE_PATH", "marketchat.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		IdentityBaseURL: os.Getenv("IDENTITY_BASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ProfileCacheTTL: time.Duration(getEnvAsInt("PROFILE_CACHE_TTL_SECONDS", 300)) * time.Second,

		ReadTimeout: time.Duration(getEnvAsInt("READ_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
