// Package config loads the controller's runtime configuration from
// environment variables, falling back to sane defaults.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the mission dispatch controller.
type Config struct {
	MQTT    MQTTConfig
	Store   StoreConfig
	Robot   RobotConfig
	Redis   RedisConfig
	HTTP    HTTPConfig
	Logging LoggingConfig
}

// MQTTConfig describes how to reach the broker and name VDA5050 topics.
type MQTTConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Transport        string `mapstructure:"transport"` // "tcp" or "websockets"
	WSPath           string `mapstructure:"ws_path"`
	Prefix           string `mapstructure:"prefix"`
	Manufacturer     string `mapstructure:"manufacturer"`
	InterfaceVersion string `mapstructure:"interface_version"`
	ClientID         string `mapstructure:"client_id"`
	QueueSize        int    `mapstructure:"backpressure_queue_size"`
}

// StoreConfig points at the external Object Store.
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// RobotConfig holds process-wide robot supervision defaults.
// Robot.spec.heartbeat_timeout_s is not read: every robot is supervised
// with HeartbeatTimeoutDefaultSec.
type RobotConfig struct {
	HeartbeatTimeoutDefaultSec int `mapstructure:"heartbeat_timeout_default_s"`
	CancelTimeoutSec           int `mapstructure:"cancel_timeout_s"`
	ResumeTimeoutSec           int `mapstructure:"resume_timeout_s"`
}

// RedisConfig configures the optional best-effort status mirror. Bridge is
// disabled when URL is empty.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// HTTPConfig configures the operator-facing admin surface.
type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// HeartbeatTimeoutDefault returns the default heartbeat timeout as a Duration.
func (r RobotConfig) HeartbeatTimeoutDefault() time.Duration {
	return time.Duration(r.HeartbeatTimeoutDefaultSec) * time.Second
}

// CancelTimeout returns the cancel-ack bound as a Duration.
func (r RobotConfig) CancelTimeout() time.Duration {
	return time.Duration(r.CancelTimeoutSec) * time.Second
}

// ResumeTimeout returns the restart-reconciliation bound as a Duration.
func (r RobotConfig) ResumeTimeout() time.Duration {
	return time.Duration(r.ResumeTimeoutSec) * time.Second
}

// Load reads configuration from environment variables, with defaults
// matching spec.md §6.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MQTT_HOST", "localhost")
	v.SetDefault("MQTT_PORT", 1883)
	v.SetDefault("MQTT_TRANSPORT", "tcp")
	v.SetDefault("MQTT_WS_PATH", "/mqtt")
	v.SetDefault("MQTT_PREFIX", "uagv/v1/")
	v.SetDefault("MQTT_MANUFACTURER", "generic")
	v.SetDefault("MQTT_INTERFACE_VERSION", "v1")
	v.SetDefault("MQTT_CLIENT_ID", "mission-dispatch")
	v.SetDefault("BACKPRESSURE_QUEUE_SIZE", 64)

	v.SetDefault("DATABASE_URL", "http://localhost:8000")

	v.SetDefault("HEARTBEAT_TIMEOUT_DEFAULT_S", 30)
	v.SetDefault("CANCEL_TIMEOUT_S", 15)
	v.SetDefault("RESUME_TIMEOUT_S", 60)

	v.SetDefault("REDIS_URL", "")

	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_HOST", "0.0.0.0")

	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		MQTT: MQTTConfig{
			Host:             v.GetString("MQTT_HOST"),
			Port:             v.GetInt("MQTT_PORT"),
			Transport:        v.GetString("MQTT_TRANSPORT"),
			WSPath:           v.GetString("MQTT_WS_PATH"),
			Prefix:           v.GetString("MQTT_PREFIX"),
			Manufacturer:     v.GetString("MQTT_MANUFACTURER"),
			InterfaceVersion: v.GetString("MQTT_INTERFACE_VERSION"),
			ClientID:         v.GetString("MQTT_CLIENT_ID"),
			QueueSize:        v.GetInt("BACKPRESSURE_QUEUE_SIZE"),
		},
		Store: StoreConfig{
			DatabaseURL: v.GetString("DATABASE_URL"),
		},
		Robot: RobotConfig{
			HeartbeatTimeoutDefaultSec: v.GetInt("HEARTBEAT_TIMEOUT_DEFAULT_S"),
			CancelTimeoutSec:           v.GetInt("CANCEL_TIMEOUT_S"),
			ResumeTimeoutSec:           v.GetInt("RESUME_TIMEOUT_S"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		HTTP: HTTPConfig{
			Port: v.GetInt("HTTP_PORT"),
			Host: v.GetString("HTTP_HOST"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	return cfg, nil
}
