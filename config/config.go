// Package config loads gamenet settings from a YAML file, GAMENET_*
// environment variables and built-in defaults, in that order of precedence
// (environment first).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/logging"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. GAMENET_SERVER_PORT.
const EnvPrefix = "GAMENET"

// Config is the complete configuration of a gamenet process.
type Config struct {
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Client  ClientConfig   `mapstructure:"client" yaml:"client"`
	Channel ChannelConfig  `mapstructure:"channel" yaml:"channel"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	BanList BanListConfig  `mapstructure:"banlist" yaml:"banlist"`
}

// ServerConfig configures the server role.
type ServerConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Port       int    `mapstructure:"port" yaml:"port"`
	MaxClients int    `mapstructure:"max_clients" yaml:"max_clients"`
	// TickRate is how many ticks per second the server loop runs.
	TickRate int `mapstructure:"tick_rate" yaml:"tick_rate"`
}

// ClientConfig configures the client role.
type ClientConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Port       int    `mapstructure:"port" yaml:"port"`
	ServerHost string `mapstructure:"server_host" yaml:"server_host"`
	ServerPort int    `mapstructure:"server_port" yaml:"server_port"`
	TickRate   int    `mapstructure:"tick_rate" yaml:"tick_rate"`
}

// ChannelConfig holds the per-channel tunables.
type ChannelConfig struct {
	// Rate is the transmit limit in bytes per second.
	Rate    float64       `mapstructure:"rate" yaml:"rate"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BanListConfig locates the ban database.
type BanListConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Options converts the channel settings, with the log flush flag, into a
// channel.Config using tp.
func (c *Config) Options(tp clock.TimeProvider) channel.Config {
	return channel.Config{
		Rate:         c.Channel.Rate,
		Timeout:      c.Channel.Timeout,
		FlushLog:     c.Log.FlushLog,
		TimeProvider: tp,
	}
}

// Load reads path (optional: an empty path uses defaults and environment
// only), applies overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Name:       "gamenet server",
			Port:       limits.DefaultServerPort,
			MaxClients: limits.DefaultMaxClients,
			TickRate:   defaultTickRate,
		},
		Client: ClientConfig{
			Name:       "player",
			Port:       limits.DefaultClientPort,
			ServerHost: "localhost",
			ServerPort: limits.DefaultServerPort,
			TickRate:   defaultTickRate,
		},
		Channel: ChannelConfig{
			Rate:    limits.DefaultRate,
			Timeout: limits.DefaultTimeout,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
			File: logging.FileConfig{
				Path:       "gamenet.log",
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
		BanList: BanListConfig{Path: "bans.db"},
	}
	return cfg
}

const (
	defaultTickRate = 20
	maxTickRate     = 1000
)

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.name", d.Server.Name)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_clients", d.Server.MaxClients)
	v.SetDefault("server.tick_rate", d.Server.TickRate)

	v.SetDefault("client.name", d.Client.Name)
	v.SetDefault("client.port", d.Client.Port)
	v.SetDefault("client.server_host", d.Client.ServerHost)
	v.SetDefault("client.server_port", d.Client.ServerPort)
	v.SetDefault("client.tick_rate", d.Client.TickRate)

	v.SetDefault("channel.rate", d.Channel.Rate)
	v.SetDefault("channel.timeout", d.Channel.Timeout.String())

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.flush_log", false)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("banlist.enabled", false)
	v.SetDefault("banlist.path", d.BanList.Path)
}

// ErrInvalidPort is returned for a port outside 0..65535.
var ErrInvalidPort = errors.New("invalid port")

// ValidateAndApplyDefaults rejects unusable values and clamps the tunables
// to the engine limits.
func (c *Config) ValidateAndApplyDefaults() error {
	for name, port := range map[string]int{
		"server.port":        c.Server.Port,
		"client.port":        c.Client.Port,
		"client.server_port": c.Client.ServerPort,
	} {
		if port < 0 || port > 0xFFFF {
			return fmt.Errorf("%w: %s=%d", ErrInvalidPort, name, port)
		}
	}
	if len(c.Server.Name) > limits.MaxNameLength {
		return fmt.Errorf("server.name longer than %d bytes", limits.MaxNameLength)
	}
	if len(c.Client.Name) > limits.MaxNameLength {
		return fmt.Errorf("client.name longer than %d bytes", limits.MaxNameLength)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.BanList.Enabled && c.BanList.Path == "" {
		return errors.New("banlist.path is required when the ban list is enabled")
	}

	c.Server.MaxClients = limits.ClampMaxClients(c.Server.MaxClients)
	c.Server.TickRate = clampTickRate(c.Server.TickRate)
	c.Client.TickRate = clampTickRate(c.Client.TickRate)
	c.Channel.Rate = limits.ClampRate(c.Channel.Rate)
	c.Channel.Timeout = limits.ClampTimeout(c.Channel.Timeout)
	return nil
}

func clampTickRate(n int) int {
	switch {
	case n <= 0:
		return defaultTickRate
	case n > maxTickRate:
		return maxTickRate
	}
	return n
}

// TickInterval returns the duration of one tick at rate ticks per second.
func TickInterval(rate int) time.Duration {
	return time.Second / time.Duration(clampTickRate(rate))
}

// Render returns the configuration as YAML.
func (c *Config) Render() ([]byte, error) {
	return yaml.Marshal(c)
}
