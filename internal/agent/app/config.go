package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the agent needs to reach its two peers:
// the card connector (mTLS SOAP) and the central IdP (pinned TLS).
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file named by AGENT_CONFIG, then environment variables. Env always
// wins; the YAML file is what admins distribute alongside the binary.
type Config struct {
	Port     int    `yaml:"port"`      // loopback listener port (default: 39000)
	ClientID string `yaml:"client_id"` // OAuth2 client id registered at the IdP

	IdpCAFile   string `yaml:"idp_ca_file"`   // PEM bundle pinning the IdP chain
	ProxyCAFile string `yaml:"proxy_ca_file"` // Optional: extra CA for the privileged client (TLS-intercepting proxies)

	ConnectorHost       string `yaml:"connector_host"`        // Required: connector base URL, e.g. https://10.11.12.13
	ConnectorSDSPath    string `yaml:"connector_sds_path"`    // Optional: self-description path (default: /connector.sds)
	ConnectorCAFile     string `yaml:"connector_ca_file"`     // Optional: PEM bundle pinning the connector chain
	ConnectorClientCert string `yaml:"connector_client_cert"` // Optional: client certificate for mTLS
	ConnectorClientKey  string `yaml:"connector_client_key"`  // Optional: client key for mTLS

	MandantID      string `yaml:"mandant_id"`       // Connector call context
	ClientSystemID string `yaml:"client_system_id"` // Connector call context
	WorkplaceID    string `yaml:"workplace_id"`     // Connector call context
	ECC            bool   `yaml:"ecc"`              // Cards carry brainpool ECDSA keys instead of RSA

	CardRetryDelay time.Duration `yaml:"card_retry_delay"` // Missing-card retry pacing (default: 500ms)
	DatabaseFile   string        `yaml:"database_file"`    // SQLite user-id cache (default: ./agent.db)

	Env                 string        `yaml:"env"`        // Environment (dev, prod) (default: dev)
	LogLevel            string        `yaml:"log_level"`  // debug, info, warn, error (default: info)
	LogFormat           string        `yaml:"log_format"` // json, text (default: json)
	LogFile             string        `yaml:"log_file"`   // Optional: duplicate log records into this file
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// LoadConfig resolves the configuration. A missing .env file is fine;
// a named-but-unreadable AGENT_CONFIG file is an error.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                39000,
		ConnectorSDSPath:    "/connector.sds",
		CardRetryDelay:      500 * time.Millisecond,
		DatabaseFile:        "agent.db",
		Env:                 "dev",
		LogLevel:            "info",
		LogFormat:           "json",
		ShutdownGracePeriod: 10 * time.Second,
	}

	if path := os.Getenv("AGENT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnvIntOrDefault("AGENT_PORT", cfg.Port)
	cfg.ClientID = getEnvOrDefault("AGENT_CLIENT_ID", cfg.ClientID)
	cfg.IdpCAFile = getEnvOrDefault("AGENT_IDP_CA_FILE", cfg.IdpCAFile)
	cfg.ProxyCAFile = getEnvOrDefault("AGENT_PROXY_CA_FILE", cfg.ProxyCAFile)
	cfg.ConnectorHost = getEnvOrDefault("AGENT_CONNECTOR_HOST", cfg.ConnectorHost)
	cfg.ConnectorSDSPath = getEnvOrDefault("AGENT_CONNECTOR_SDS_PATH", cfg.ConnectorSDSPath)
	cfg.ConnectorCAFile = getEnvOrDefault("AGENT_CONNECTOR_CA_FILE", cfg.ConnectorCAFile)
	cfg.ConnectorClientCert = getEnvOrDefault("AGENT_CONNECTOR_CLIENT_CERT", cfg.ConnectorClientCert)
	cfg.ConnectorClientKey = getEnvOrDefault("AGENT_CONNECTOR_CLIENT_KEY", cfg.ConnectorClientKey)
	cfg.MandantID = getEnvOrDefault("AGENT_MANDANT_ID", cfg.MandantID)
	cfg.ClientSystemID = getEnvOrDefault("AGENT_CLIENT_SYSTEM_ID", cfg.ClientSystemID)
	cfg.WorkplaceID = getEnvOrDefault("AGENT_WORKPLACE_ID", cfg.WorkplaceID)
	cfg.ECC = getEnvBoolOrDefault("AGENT_ECC", cfg.ECC)
	cfg.CardRetryDelay = getEnvDurationOrDefault("AGENT_CARD_RETRY_DELAY", cfg.CardRetryDelay)
	cfg.DatabaseFile = getEnvOrDefault("AGENT_DATABASE_FILE", cfg.DatabaseFile)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getEnvOrDefault("LOG_FILE", cfg.LogFile)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.ConnectorHost == "" {
		return fmt.Errorf("connector host not configured (AGENT_CONNECTOR_HOST)")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id not configured (AGENT_CLIENT_ID)")
	}
	if c.ConnectorClientCert != "" && c.ConnectorClientKey == "" {
		return fmt.Errorf("connector client certificate set without a key")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
