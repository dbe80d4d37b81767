package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	BotToken             string
	SessionSecret        string
	SessionIssuer        string
	SessionTTL           time.Duration
	CodeTTL              time.Duration
	CodeCooldown         time.Duration
	CodeLength           int
	CodeMaxAttempts      int
	SMSGatewayURL        string
	SMSAPIKey            string
	SMSSender            string
	AdminChatID          int64
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
// BOT_TOKEN and SESSION_SECRET guard credential verification and are
// startup-fatal when absent; there is no weak fallback.
func Load() (Config, error) {
	_ = godotenv.Load()

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return Config{}, fmt.Errorf("BOT_TOKEN is required")
	}
	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		BotToken:             botToken,
		SessionSecret:        sessionSecret,
		SessionIssuer:        getEnv("SESSION_ISSUER", "bazar-auth"),
		SessionTTL:           getDuration("SESSION_TTL", 30*24*time.Hour),
		CodeTTL:              getDuration("CODE_TTL", 10*time.Minute),
		CodeCooldown:         getDuration("CODE_COOLDOWN", time.Minute),
		CodeLength:           getInt("CODE_LENGTH", 6),
		CodeMaxAttempts:      getInt("CODE_MAX_ATTEMPTS", 5),
		SMSGatewayURL:        os.Getenv("SMS_GATEWAY_URL"),
		SMSAPIKey:            os.Getenv("SMS_API_KEY"),
		SMSSender:            getEnv("SMS_SENDER", "Bazar"),
		AdminChatID:          getInt64("ADMIN_CHAT_ID", 0),
		ServiceName:          getEnv("SERVICE_NAME", "bazar-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.CodeLength < 4 || cfg.CodeLength > 8 {
		cfg.CodeLength = 6
	}
	if cfg.CodeMaxAttempts < 1 {
		cfg.CodeMaxAttempts = 5
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
