package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"API_TOKEN", "DEVICE_TOKEN_KEY", "ENVIRONMENT", "HTTP_ADDR", "LOG_LEVEL",
		"DATABASE_HOST", "DATABASE_PORT", "DATABASE_USERNAME", "DATABASE_PASSWORD",
		"DATABASE_NAME", "DATABASE_TLS_MODE",
		"NUT_HOST", "NUT_PORT", "NUT_USERNAME", "NUT_PASSWORD", "NUT_POLL_INTERVAL", "NUT_UPS",
		"RELAY_URL", "RELAY_TENANT_ID", "RELAY_SECRET", "RELAY_SERVER_ID", "VOLTEEC_DEPLOYMENT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC_PREFIX",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.APIToken)
	assert.Nil(t, cfg.DeviceTokenKey)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTPAddr)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "volteec", cfg.Database.Name)
	assert.Equal(t, "prefer", cfg.Database.TLSMode)

	assert.Equal(t, "localhost", cfg.NUT.Host)
	assert.Equal(t, 3493, cfg.NUT.Port)
	assert.Equal(t, 1.0, cfg.NUT.PollInterval)
	assert.Empty(t, cfg.NUT.UPSNames)

	assert.Nil(t, cfg.Relay)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.MQTT.Broker)
}

func TestLoad_DSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PORT", "5433")
	t.Setenv("DATABASE_USERNAME", "volteec")
	t.Setenv("DATABASE_PASSWORD", "pw")
	t.Setenv("DATABASE_NAME", "ups")
	t.Setenv("DATABASE_TLS_MODE", "require")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal port=5433 user=volteec password=pw dbname=ups sslmode=require", cfg.Database.DSN())
}

func TestLoad_InvalidTLSMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_TLS_MODE", "verify-full")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DeviceTokenKey(t *testing.T) {
	clearEnv(t)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("DEVICE_TOKEN_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, key, cfg.DeviceTokenKey)
}

func TestLoad_DeviceTokenKeyNotBase64(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICE_TOKEN_KEY", "%%%not-base64%%%")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DeviceTokenKeyWrongLength(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICE_TOKEN_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_NUTUPSList(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUT_UPS", "ups1, rack-ups ,, UPS3 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ups1", "rack-ups", "UPS3"}, cfg.NUT.UPSNames)
}

func TestLoad_PollIntervalFallsBackWhenInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUT_POLL_INTERVAL", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.NUT.PollInterval)
}

func TestLoadRelay_CompleteCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_URL", "https://relay.example.com")
	t.Setenv("RELAY_TENANT_ID", "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d")
	t.Setenv("RELAY_SECRET", "s3cret")
	t.Setenv("RELAY_SERVER_ID", "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Relay)
	assert.Equal(t, "https://relay.example.com", cfg.Relay.BaseURL)
	assert.Equal(t, "sandbox", cfg.Relay.Environment)
}

func TestLoadRelay_IncompleteCredentialsDegrade(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {
			"RELAY_URL":       "https://relay.example.com",
			"RELAY_TENANT_ID": "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d",
			"RELAY_SERVER_ID": "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e",
		},
		"tenant id not a uuid": {
			"RELAY_URL":       "https://relay.example.com",
			"RELAY_TENANT_ID": "tenant-1",
			"RELAY_SECRET":    "s3cret",
			"RELAY_SERVER_ID": "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e",
		},
		"server id not a uuid": {
			"RELAY_URL":       "https://relay.example.com",
			"RELAY_TENANT_ID": "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d",
			"RELAY_SECRET":    "s3cret",
			"RELAY_SERVER_ID": "server-1",
		},
		"url not parseable": {
			"RELAY_URL":       "not a url",
			"RELAY_TENANT_ID": "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d",
			"RELAY_SECRET":    "s3cret",
			"RELAY_SERVER_ID": "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e",
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err, "relay misconfig must degrade, never fail startup")
			assert.Nil(t, cfg.Relay)
		})
	}
}

func TestLoadRelay_ProductionDeployment(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOLTEEC_DEPLOYMENT", "production")
	t.Setenv("RELAY_TENANT_ID", "0b7f3c6a-8d1e-4f2a-9c3b-5e6d7a8b9c0d")
	t.Setenv("RELAY_SECRET", "s3cret")
	t.Setenv("RELAY_SERVER_ID", "1c8e4d7b-9f2a-4b3c-8d4e-6f7a8b9c0d1e")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Relay)
	assert.Equal(t, productionRelayURL, cfg.Relay.BaseURL)
	assert.Equal(t, "production", cfg.Relay.Environment)
}
