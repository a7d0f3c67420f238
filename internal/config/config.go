// Package config provides configuration loading for airdancer.
//
// Configuration is loaded from environment variables (DANCER_ prefix) with
// an optional YAML file underneath. See Load for precedence rules.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config holds the complete airdancer configuration.
type Config struct {
	Slack    SlackConfig    `koanf:"slack"`
	MQTT     MQTTConfig     `koanf:"mqtt"`
	Database DatabaseConfig `koanf:"database"`
	Admin    AdminConfig    `koanf:"admin"`
	Bother   BotherConfig   `koanf:"bother"`
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`

	// Debug lowers the log level to debug and switches to console output
	// unless the log section overrides it explicitly.
	Debug bool `koanf:"debug"`
}

// SlackConfig holds Slack API credentials and the slash command name.
type SlackConfig struct {
	BotToken     Secret `koanf:"bot_token"`
	AppToken     Secret `koanf:"app_token"`
	SlashCommand string `koanf:"slash_command"`
}

// MQTTConfig holds MQTT broker connection settings.
//
// URL, when set, takes precedence for host, port and TLS mode. Credentials
// embedded in the URL are used unless Username/Password are set explicitly.
type MQTTConfig struct {
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
	UseTLS   bool   `koanf:"use_tls"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// AdminConfig identifies the bootstrap administrator.
type AdminConfig struct {
	// User is a Slack username or user ID granted admin on first contact.
	User string `koanf:"user"`
}

// BotherConfig bounds bother durations.
type BotherConfig struct {
	DefaultDuration Duration `koanf:"default_duration"`
	MaxDuration     Duration `koanf:"max_duration"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// BrokerURL returns the broker address in the form paho expects.
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// resolveURL folds the URL field into host, port, TLS mode and credentials.
func (c *MQTTConfig) resolveURL() error {
	if c.URL == "" {
		return nil
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid mqtt url: %w", err)
	}

	switch u.Scheme {
	case "mqtt", "tcp":
		c.UseTLS = false
	case "mqtts", "ssl", "tls":
		c.UseTLS = true
	default:
		return fmt.Errorf("unsupported mqtt url scheme: %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("mqtt url has no host: %q", c.URL)
	}
	c.Host = u.Hostname()

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid mqtt url port: %w", err)
		}
		c.Port = port
	} else if c.UseTLS {
		c.Port = 8883
	} else {
		c.Port = 1883
	}

	// Explicit username/password settings win over URL credentials.
	if u.User != nil {
		if c.Username == "" {
			c.Username = u.User.Username()
		}
		if !c.Password.IsSet() {
			if pw, ok := u.User.Password(); ok {
				c.Password = Secret(pw)
			}
		}
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Slack.SlashCommand == "" {
		cfg.Slack.SlashCommand = "/dancer"
	}

	if cfg.MQTT.Host == "" {
		cfg.MQTT.Host = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "airdancer.db"
	}

	if cfg.Bother.DefaultDuration == 0 {
		cfg.Bother.DefaultDuration = Duration(15 * time.Second)
	}
	if cfg.Bother.MaxDuration == 0 {
		cfg.Bother.MaxDuration = Duration(time.Hour)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Log.Level == "" {
		if cfg.Debug {
			cfg.Log.Level = "debug"
		} else {
			cfg.Log.Level = "info"
		}
	}
	if cfg.Log.Format == "" {
		if cfg.Debug {
			cfg.Log.Format = "console"
		} else {
			cfg.Log.Format = "json"
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Slack.BotToken.IsSet() {
		return errors.New("slack bot token is required (DANCER_SLACK_BOT_TOKEN)")
	}
	if !c.Slack.AppToken.IsSet() {
		return errors.New("slack app token is required (DANCER_SLACK_APP_TOKEN)")
	}
	if len(c.Slack.AppToken.Value()) < 5 || c.Slack.AppToken.Value()[:5] != "xapp-" {
		return errors.New("slack app token must start with xapp-")
	}
	if c.Slack.SlashCommand == "" || c.Slack.SlashCommand[0] != '/' {
		return fmt.Errorf("slash command must start with /: %q", c.Slack.SlashCommand)
	}

	if c.MQTT.Host == "" {
		return errors.New("mqtt host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid mqtt port: %d (must be 1-65535)", c.MQTT.Port)
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Bother.DefaultDuration.Duration() <= 0 {
		return errors.New("bother default duration must be positive")
	}
	if c.Bother.MaxDuration.Duration() <= 0 {
		return errors.New("bother max duration must be positive")
	}
	if c.Bother.DefaultDuration.Duration() > c.Bother.MaxDuration.Duration() {
		return fmt.Errorf("bother default duration %s exceeds max %s",
			c.Bother.DefaultDuration.Duration(), c.Bother.MaxDuration.Duration())
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	return nil
}
