package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"dutch_scoreboard/internal/logger"
)

// Config — настройки приложения из окружения
type Config struct {
	AppPort     string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BotToken          string
	ResultsBotEnabled bool
}

// Load читает .env (если есть) и собирает конфиг
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Get().Debug(".env not found, using environment", "error", err)
	}

	cfg := &Config{
		AppPort:           getEnv("APP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		BotToken:          os.Getenv("BOT_TOKEN"),
		ResultsBotEnabled: getEnvBool("RESULTS_BOT_ENABLED", false),
	}

	if cfg.BotToken == "" {
		logger.Get().Warn("BOT_TOKEN не задан: авторизация через initData работать не будет")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
