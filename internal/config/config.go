package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Relay production endpoint used when VOLTEEC_DEPLOYMENT=production and
// no explicit RELAY_URL is set.
const productionRelayURL = "https://relay.volteec.com"

// Config holds everything loaded from the environment at startup.
type Config struct {
	// APIToken authenticates /v1/* requests. Empty means degraded mode:
	// only /health, /ready and /metrics are served.
	APIToken string

	// DeviceTokenKey is the 32-byte AES-GCM key for device tokens at
	// rest, decoded from base64.
	DeviceTokenKey []byte

	Database DatabaseConfig
	NUT      NUTConfig
	Relay    *RelayConfig // nil when Relay is not configured
	Redis    RedisConfig
	MQTT     MQTTConfig

	// Environment gates development-only endpoints such as
	// /v1/status/simulate-push.
	Environment string

	HTTPAddr string
	LogLevel string
}

// DatabaseConfig carries Postgres connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	TLSMode  string // require | prefer | disable
}

// DSN renders a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.TLSMode)
}

// NUTConfig carries NUT server connection parameters.
type NUTConfig struct {
	Host         string
	Port         int
	UPSNames     []string
	Username     string
	Password     string
	PollInterval float64 // seconds
}

// RelayConfig carries the push fan-out endpoint credentials. All calls
// are HMAC-signed with Secret.
type RelayConfig struct {
	BaseURL     string
	TenantID    string
	Secret      string
	ServerID    string
	Environment string // sandbox | production
}

// RedisConfig enables the optional latest-snapshot mirror when Addr is
// non-empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig enables the optional MQTT event bridge when Broker is
// non-empty.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Load reads the environment. It returns an error only for fatal
// misconfiguration; a missing API_TOKEN or incomplete Relay settings
// degrade instead (the caller decides how to log that).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.APIToken = os.Getenv("API_TOKEN")
	cfg.Environment = getEnv("ENVIRONMENT", "development")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if raw := os.Getenv("DEVICE_TOKEN_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("DEVICE_TOKEN_KEY is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("DEVICE_TOKEN_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.DeviceTokenKey = key
	}

	cfg.Database.Host = getEnv("DATABASE_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DATABASE_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DATABASE_USERNAME", "postgres")
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", "")
	cfg.Database.Name = getEnv("DATABASE_NAME", "volteec")
	cfg.Database.TLSMode = getEnv("DATABASE_TLS_MODE", "prefer")
	switch cfg.Database.TLSMode {
	case "require", "prefer", "disable":
	default:
		return nil, fmt.Errorf("DATABASE_TLS_MODE must be require, prefer or disable, got %q", cfg.Database.TLSMode)
	}

	cfg.NUT.Host = getEnv("NUT_HOST", "localhost")
	cfg.NUT.Port = parseInt(getEnv("NUT_PORT", "3493"), 3493)
	cfg.NUT.Username = os.Getenv("NUT_USERNAME")
	cfg.NUT.Password = os.Getenv("NUT_PASSWORD")
	cfg.NUT.PollInterval = parseFloat(getEnv("NUT_POLL_INTERVAL", "1.0"), 1.0)
	if cfg.NUT.PollInterval <= 0 {
		cfg.NUT.PollInterval = 1.0
	}
	for _, name := range strings.Split(os.Getenv("NUT_UPS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.NUT.UPSNames = append(cfg.NUT.UPSNames, name)
		}
	}

	cfg.Relay = loadRelay()

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Broker = os.Getenv("MQTT_BROKER")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "volteec-server")
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "volteec")

	return cfg, nil
}

// loadRelay returns nil unless the full credential set is present and
// valid. Relay misconfig is never fatal: the server runs without push.
func loadRelay() *RelayConfig {
	rc := &RelayConfig{
		TenantID: os.Getenv("RELAY_TENANT_ID"),
		Secret:   os.Getenv("RELAY_SECRET"),
		ServerID: os.Getenv("RELAY_SERVER_ID"),
	}
	rc.BaseURL = os.Getenv("RELAY_URL")
	if rc.BaseURL == "" && os.Getenv("VOLTEEC_DEPLOYMENT") == "production" {
		rc.BaseURL = productionRelayURL
	}
	rc.Environment = "sandbox"
	if os.Getenv("VOLTEEC_DEPLOYMENT") == "production" {
		rc.Environment = "production"
	}

	if rc.BaseURL == "" || rc.Secret == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(rc.BaseURL); err != nil {
		return nil
	}
	if _, err := uuid.Parse(rc.TenantID); err != nil {
		return nil
	}
	if _, err := uuid.Parse(rc.ServerID); err != nil {
		return nil
	}
	return rc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
