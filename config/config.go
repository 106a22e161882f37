package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// MQTT broker
	BrokerHost string
	BrokerPort int
	ClientID   string

	// Time-series store (InfluxDB)
	TSDBURL    string
	TSDBToken  string
	TSDBOrg    string
	TSDBBucket string

	// Device command endpoint, e.g. "http://localhost:5000"
	APIBase string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Rule persistence
	RulesFile string

	// Optional rule-transition webhook. Empty disables webhook alerts.
	AlertWebhookURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BrokerHost: getEnv("BROKER_HOST", "localhost"),
		BrokerPort: getEnvInt("BROKER_PORT", 1883),
		ClientID:   getEnv("BROKER_CLIENT_ID", "iot-ingestor"),

		TSDBURL:    mustEnv("TSDB_URL"),
		TSDBToken:  mustEnv("TSDB_TOKEN"),
		TSDBOrg:    mustEnv("TSDB_ORG"),
		TSDBBucket: mustEnv("TSDB_BUCKET"),

		APIBase: getEnv("API_BASE", "http://localhost:5000"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/commands.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8081"),

		RulesFile: getEnv("RULES_FILE", "rules_config.json"),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

// BrokerURL builds the tcp:// URL for the MQTT client.
func (c *Config) BrokerURL() string {
	return "tcp://" + c.BrokerHost + ":" + strconv.Itoa(c.BrokerPort)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
