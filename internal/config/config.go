package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	FrontendURL string
	BackendURL  string
	LogLevel    string
	LogFile     string

	PostgresDSN string
	RedisAddr   string
	CartTTL     time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	GatewayTimeout time.Duration
	ESewa          ESewa
	Khalti         Khalti
}

type ESewa struct {
	ProductCode string
	SecretKey   string
	FormURL     string
	StatusURL   string
}

type Khalti struct {
	SecretKey string
	BaseURL   string
}

// Load reads an optional .env file (files first, real environment wins) and
// then the environment. Missing values fall back to sandbox-friendly defaults.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: load %v: %w", files, err)
	}

	cfg := Config{
		ServiceName: getenv("SERVICE_NAME", "bivan"),
		Env:         getenv("ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		FrontendURL: strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		BackendURL:  strings.TrimRight(getenv("BACKEND_URL", "http://localhost:8080"), "/"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFile:     os.Getenv("LOG_FILE"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		KafkaTopic:  getenv("KAFKA_TOPIC", "order-notifications"),
		ESewa: ESewa{
			ProductCode: getenv("ESEWA_PRODUCT_CODE", "EPAYTEST"),
			SecretKey:   getenv("ESEWA_SECRET_KEY", "8gBm/:&EnhH.1/q"),
			FormURL:     os.Getenv("ESEWA_FORM_URL"),
			StatusURL:   os.Getenv("ESEWA_STATUS_URL"),
		},
		Khalti: Khalti{
			SecretKey: os.Getenv("KHALTI_SECRET_KEY"),
			BaseURL:   os.Getenv("KHALTI_BASE_URL"),
		},
	}
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.GatewayTimeout, err = duration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CartTTL, err = duration("CART_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether the service runs against live gateways.
func (c Config) Production() bool { return c.Env == "prod" || c.Env == "production" }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s=%q is not a positive duration", key, raw)
	}
	return d, nil
}
