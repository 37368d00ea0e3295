// Package config provides environment-based configuration with fail-fast
// validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Transport selection values.
const (
	TransportWebhook   = "webhook"
	TransportWebSocket = "websocket"
)

// Secrets that ship in docs and examples. Catching them at startup beats
// finding out when every callback gets rejected.
var placeholderSecrets = map[string]bool{
	"secret":           true,
	"changeme":         true,
	"change-me":        true,
	"your-secret-here": true,
	"0123456789":       true,
}

type Config struct {
	AppEnv              string
	Port                string
	LogLevel            string
	LogFormat           string
	Transport           string
	TwitchClientID      string
	TwitchClientSecret  string
	WebhookCallbackURL  string
	WebhookSecret       string
	StrictHostCheck     bool
	WebSocketURL        string
	KeepaliveMultiplier float64
	ReplayWindow        time.Duration
	DatabaseURL         string
	RedisURL            string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		Transport:          getEnv("TRANSPORT", TransportWebhook),
		TwitchClientID:     getEnv("TWITCH_CLIENT_ID", ""),
		TwitchClientSecret: getEnv("TWITCH_CLIENT_SECRET", ""),
		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		WebSocketURL:       getEnv("WEBSOCKET_URL", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
	}

	if cfg.TwitchClientID == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_ID is required")
	}
	if cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_SECRET is required")
	}

	switch cfg.Transport {
	case TransportWebhook:
		if cfg.WebhookCallbackURL == "" {
			return nil, fmt.Errorf("WEBHOOK_CALLBACK_URL is required for the webhook transport")
		}
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("WEBHOOK_SECRET is required for the webhook transport")
		}
		if len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100 {
			return nil, fmt.Errorf("WEBHOOK_SECRET must be between 10 and 100 characters")
		}
		if placeholderSecrets[cfg.WebhookSecret] {
			return nil, fmt.Errorf("WEBHOOK_SECRET is a placeholder value, generate a real secret")
		}
		parsed, err := url.Parse(cfg.WebhookCallbackURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("WEBHOOK_CALLBACK_URL must be a well-formed http(s) URL")
		}
	case TransportWebSocket:
		if cfg.WebSocketURL != "" {
			parsed, err := url.Parse(cfg.WebSocketURL)
			if err != nil || parsed.Host == "" || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
				return nil, fmt.Errorf("WEBSOCKET_URL must be a well-formed ws(s) URL")
			}
		}
	default:
		return nil, fmt.Errorf("TRANSPORT must be %q or %q", TransportWebhook, TransportWebSocket)
	}

	strictHostCheck, err := getBoolEnv("STRICT_HOST_CHECK", true)
	if err != nil {
		return nil, err
	}
	cfg.StrictHostCheck = strictHostCheck

	cfg.KeepaliveMultiplier, err = getFloatEnv("KEEPALIVE_MULTIPLIER", 1.2)
	if err != nil {
		return nil, err
	}
	if cfg.KeepaliveMultiplier < 1.0 {
		return nil, fmt.Errorf("KEEPALIVE_MULTIPLIER must be at least 1.0")
	}

	cfg.ReplayWindow, err = getDurationEnv("REPLAY_WINDOW", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	if cfg.ReplayWindow <= 0 {
		return nil, fmt.Errorf("REPLAY_WINDOW must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 10m: %w", key, err)
	}
	return parsed, nil
}
