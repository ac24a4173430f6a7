// Package config loads process configuration from file and environment and
// publishes it onto the bus as retained messages.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"devicekit-go/bus"
	"devicekit-go/internal/logging"
	"devicekit-go/services/heartbeat"
)

const (
	envPrefix    = "DEVICEKIT"
	configPrefix = "config"
)

type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// DeviceConfig declares one device instance.
type DeviceConfig struct {
	ID     string         `mapstructure:"id"`
	Type   string         `mapstructure:"type"`
	Bus    string         `mapstructure:"bus"` // "" when not on a shared bus
	Params map[string]any `mapstructure:"params"`
}

type HubConfig struct {
	PollInterval       time.Duration  `mapstructure:"pollInterval"`
	WaitTimeout        time.Duration  `mapstructure:"waitTimeout"`
	InitTimeout        time.Duration  `mapstructure:"initTimeout"`
	LockTimeout        time.Duration  `mapstructure:"lockTimeout"`
	MaxCyclesPerSecond float64        `mapstructure:"maxCyclesPerSecond"` // 0: unlimited
	Burst              int            `mapstructure:"burst"`
	NotifyQueueLen     int            `mapstructure:"notifyQueueLen"`
	Devices            []DeviceConfig `mapstructure:"devices"`
}

type Config struct {
	Logging   logging.Config   `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Hub       HubConfig        `mapstructure:"hub"`
	Heartbeat heartbeat.Config `mapstructure:"heartbeat"`
}

// Load reads path, or $DEVICEKIT_CONFIG, or devicekit.yaml from . or
// ./configs. A missing file is only an error when path was given.
// DEVICEKIT_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("devicekit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("hub.pollInterval", "2s")
	v.SetDefault("hub.waitTimeout", "1s")
	v.SetDefault("hub.initTimeout", "2s")
	v.SetDefault("hub.lockTimeout", "500ms")
	v.SetDefault("hub.maxCyclesPerSecond", 20)
	v.SetDefault("hub.burst", 4)
	v.SetDefault("hub.notifyQueueLen", 16)

	v.SetDefault("heartbeat.interval", "10s")
}

// Validate checks device declarations are complete and IDs unique.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Hub.Devices))
	for i, d := range c.Hub.Devices {
		if d.ID == "" || d.Type == "" {
			return fmt.Errorf("hub.devices[%d]: id and type are required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("hub.devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
	}
	if c.Hub.PollInterval <= 0 {
		return fmt.Errorf("hub.pollInterval must be positive")
	}
	return nil
}

// Publish places each configuration section on the bus as a retained
// message under config/<section>.
func Publish(conn *bus.Connection, cfg *Config) {
	conn.Publish(bus.NewMessage(bus.T(configPrefix, "logging"), cfg.Logging, true))
	conn.Publish(bus.NewMessage(bus.T(configPrefix, "metrics"), cfg.Metrics, true))
	conn.Publish(bus.NewMessage(bus.T(configPrefix, "hub"), cfg.Hub, true))
	conn.Publish(bus.NewMessage(bus.T(configPrefix, "heartbeat"), cfg.Heartbeat, true))
}
