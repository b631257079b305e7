package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AGENT_CONFIG", "")
	t.Setenv("AGENT_CONNECTOR_HOST", "https://kon.example")
	t.Setenv("AGENT_CLIENT_ID", "ps1")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 39000, cfg.Port)
	require.Equal(t, "/connector.sds", cfg.ConnectorSDSPath)
	require.Equal(t, 500*time.Millisecond, cfg.CardRetryDelay)
	require.Equal(t, "agent.db", cfg.DatabaseFile)
	require.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
port: 40000
connector_host: https://kon.example
client_id: from-yaml
log_level: debug
card_retry_delay: 2s
`)
	t.Setenv("AGENT_CONFIG", path)
	t.Setenv("AGENT_CLIENT_ID", "from-env")
	t.Setenv("AGENT_CARD_RETRY_DELAY", "1s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// yaml beats the built-in default
	require.Equal(t, 40000, cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	// env beats yaml
	require.Equal(t, "from-env", cfg.ClientID)
	require.Equal(t, time.Second, cfg.CardRetryDelay)
	// untouched values keep their defaults
	require.Equal(t, "agent.db", cfg.DatabaseFile)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("AGENT_CONFIG", "")
	t.Setenv("AGENT_CONNECTOR_HOST", "")
	t.Setenv("AGENT_CLIENT_ID", "")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "connector host")

	t.Setenv("AGENT_CONNECTOR_HOST", "https://kon.example")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "client id")

	t.Setenv("AGENT_CLIENT_ID", "ps1")
	t.Setenv("AGENT_CONNECTOR_CLIENT_CERT", "cert.pem")
	t.Setenv("AGENT_CONNECTOR_CLIENT_KEY", "")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "without a key")
}

func TestLoadConfigBadFile(t *testing.T) {
	t.Setenv("AGENT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	require.ErrorContains(t, err, "read config file")
}
