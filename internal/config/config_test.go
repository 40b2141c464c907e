package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeEnv(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GatewayTimeout != 10*time.Second || cfg.ESewa.ProductCode != "EPAYTEST" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.PostgresDSN != "" {
		t.Fatalf("optional backends enabled by default: %+v", cfg)
	}
}

func TestLoadFromEnvFileAndEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	path := writeEnv(t, "GATEWAY_TIMEOUT=3s\nKAFKA_BROKERS=k1:9092, k2:9092\nHTTP_ADDR=:7070\nFRONTEND_URL=https://shop.example/\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("environment must win over .env: %q", cfg.HTTPAddr)
	}
	if cfg.GatewayTimeout != 3*time.Second || len(cfg.KafkaBrokers) != 2 || cfg.FrontendURL != "https://shop.example" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_TIMEOUT", "soon")
	if _, err := Load(writeEnv(t, "")); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv unsets every key Load reads; godotenv only fills keys that are absent.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVICE_NAME", "ENV", "HTTP_ADDR", "FRONTEND_URL", "BACKEND_URL", "POSTGRES_DSN", "REDIS_ADDR",
		"CART_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC", "GATEWAY_TIMEOUT", "ESEWA_PRODUCT_CODE",
		"ESEWA_SECRET_KEY", "ESEWA_FORM_URL", "ESEWA_STATUS_URL", "KHALTI_SECRET_KEY", "KHALTI_BASE_URL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}
