// Package config loads the server configuration from environment
// variables (optionally seeded from a .env-style config file) with the
// defaults the wearable fleet ships with.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BrokerHost string
	BrokerPort int
	ClientID   string

	TopicSOS    string
	TopicStatus string
	TopicTamper string

	TwilioSID   string
	TwilioToken string
	TwilioFrom  string

	EmergencyNumbers []string
	EnableCalls      bool
	CallMessage      string

	RateLimitWindow  time.Duration
	RetryAttempts    int
	RetryBaseBackoff time.Duration

	SOSLogPath    string
	StatusLogPath string

	// Optional event mirror (enabled when brokers are set).
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string

	// Optional status telemetry (enabled when URL is set).
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. When path is non-empty
// it is read as a key=value env file first; real environment variables
// win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("BROKER_HOST", "broker.hivemq.com")
	v.SetDefault("BROKER_PORT", 1883)
	v.SetDefault("MQTT_CLIENT_ID", "wearable-server-sub")
	v.SetDefault("TOPIC_SOS", "wearable/+/sos")
	v.SetDefault("TOPIC_STATUS", "wearable/+/status")
	v.SetDefault("TOPIC_TAMPER", "wearable/+/tamper")
	v.SetDefault("TWILIO_SID", "")
	v.SetDefault("TWILIO_TOKEN", "")
	v.SetDefault("TWILIO_FROM", "")
	v.SetDefault("EMERGENCY_NUMBERS", "")
	v.SetDefault("TWILIO_ENABLE_CALLS", false)
	v.SetDefault("TWILIO_CALL_MESSAGE",
		"This is an automated safety alert. Please check on the sender immediately.")
	v.SetDefault("RATE_LIMIT_SECONDS", 120)
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_BACKOFF_MS", 1000)
	v.SetDefault("SOS_LOG_PATH", "sos_log.csv")
	v.SetDefault("STATUS_LOG_PATH", "status_log.csv")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "wearable-events")
	v.SetDefault("KAFKA_DLQ_TOPIC", "wearable-events-dlq")
	v.SetDefault("INFLUX_URL", "")
	v.SetDefault("INFLUX_TOKEN", "")
	v.SetDefault("INFLUX_ORG", "")
	v.SetDefault("INFLUX_BUCKET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		BrokerHost:       v.GetString("BROKER_HOST"),
		BrokerPort:       v.GetInt("BROKER_PORT"),
		ClientID:         v.GetString("MQTT_CLIENT_ID"),
		TopicSOS:         v.GetString("TOPIC_SOS"),
		TopicStatus:      v.GetString("TOPIC_STATUS"),
		TopicTamper:      v.GetString("TOPIC_TAMPER"),
		TwilioSID:        v.GetString("TWILIO_SID"),
		TwilioToken:      v.GetString("TWILIO_TOKEN"),
		TwilioFrom:       v.GetString("TWILIO_FROM"),
		EmergencyNumbers: splitList(v.GetString("EMERGENCY_NUMBERS")),
		EnableCalls:      v.GetBool("TWILIO_ENABLE_CALLS"),
		CallMessage:      v.GetString("TWILIO_CALL_MESSAGE"),
		RateLimitWindow:  time.Duration(v.GetInt("RATE_LIMIT_SECONDS")) * time.Second,
		RetryAttempts:    v.GetInt("RETRY_ATTEMPTS"),
		RetryBaseBackoff: time.Duration(v.GetInt("RETRY_BASE_BACKOFF_MS")) * time.Millisecond,
		SOSLogPath:       v.GetString("SOS_LOG_PATH"),
		StatusLogPath:    v.GetString("STATUS_LOG_PATH"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:       v.GetString("KAFKA_TOPIC"),
		KafkaDLQTopic:    v.GetString("KAFKA_DLQ_TOPIC"),
		InfluxURL:        v.GetString("INFLUX_URL"),
		InfluxToken:      v.GetString("INFLUX_TOKEN"),
		InfluxOrg:        v.GetString("INFLUX_ORG"),
		InfluxBucket:     v.GetString("INFLUX_BUCKET"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string
	if c.BrokerHost == "" {
		errs = append(errs, "BROKER_HOST must not be empty")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		errs = append(errs, fmt.Sprintf("BROKER_PORT out of range: %d", c.BrokerPort))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, "RATE_LIMIT_SECONDS must be > 0")
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, "RETRY_ATTEMPTS must be > 0")
	}
	if c.RetryBaseBackoff <= 0 {
		errs = append(errs, "RETRY_BASE_BACKOFF_MS must be > 0")
	}
	if c.TwilioEnabled() && c.TwilioFrom == "" {
		errs = append(errs, "TWILIO_FROM required when Twilio credentials are set")
	}
	if len(errs) > 0 {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}

// BrokerURL returns the paho connection URL.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerHost, c.BrokerPort)
}

// TwilioEnabled reports whether real provider channels should be built.
// Decided once at startup; otherwise the console mock is used.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioSID != "" && c.TwilioToken != ""
}

// KafkaEnabled reports whether the event mirror should run.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// InfluxEnabled reports whether the status telemetry sink should run.
func (c *Config) InfluxEnabled() bool { return c.InfluxURL != "" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
