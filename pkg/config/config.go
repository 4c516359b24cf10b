package config

// Package config provides a reusable loader for messaging node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/kcenon/messaging-system-go/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a messaging node. It
// mirrors the structure of the YAML file under config/.
type Config struct {
	Messaging struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

		MaxSessions int `mapstructure:"max_sessions" json:"max_sessions"`

		StartCode []byte `mapstructure:"start_code" json:"start_code"`
		EndCode   []byte `mapstructure:"end_code" json:"end_code"`

		CompressEnabled bool `mapstructure:"compress_enabled" json:"compress_enabled"`
		EncryptEnabled  bool `mapstructure:"encrypt_enabled" json:"encrypt_enabled"`

		SchedulerWorkers   int `mapstructure:"scheduler_workers" json:"scheduler_workers"`
		SchedulerQueueSize int `mapstructure:"scheduler_queue_size" json:"scheduler_queue_size"`

		AutoEchoIntervalMS int `mapstructure:"auto_echo_interval_ms" json:"auto_echo_interval_ms"`

		ConnectionKey string `mapstructure:"connection_key" json:"connection_key"`
		KeyFile       string `mapstructure:"key_file" json:"key_file"`

		// SessionType is one of "message_line", "file_line", "binary_line";
		// empty behaves as message_line.
		SessionType     string   `mapstructure:"session_type" json:"session_type"`
		SnippingTargets []string `mapstructure:"snipping_targets" json:"snipping_targets"`
	} `mapstructure:"messaging" json:"messaging"`

	Bridge struct {
		DownstreamAddr string `mapstructure:"downstream_addr" json:"downstream_addr"`
		DataLineAddr   string `mapstructure:"data_line_addr" json:"data_line_addr"`
		FileLineAddr   string `mapstructure:"file_line_addr" json:"file_line_addr"`
		MinBackoffMS   int    `mapstructure:"min_backoff_ms" json:"min_backoff_ms"`
		MaxBackoffMS   int    `mapstructure:"max_backoff_ms" json:"max_backoff_ms"`
		DialTimeoutMS  int    `mapstructure:"dial_timeout_ms" json:"dial_timeout_ms"`
		KeepAliveMS    int    `mapstructure:"keep_alive_ms" json:"keep_alive_ms"`
	} `mapstructure:"bridge" json:"bridge"`

	Metrics struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		Namespace  string `mapstructure:"namespace" json:"namespace"`
	} `mapstructure:"metrics" json:"metrics"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MSGNET_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MSGNET_ENV", ""))
}
