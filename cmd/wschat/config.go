package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	Port        int           `mapstructure:"port"`
	Host        string        `mapstructure:"host"`
	Cert        string        `mapstructure:"cert"`
	Key         string        `mapstructure:"key"`
	Path        string        `mapstructure:"path"`
	Origins     []string      `mapstructure:"origins"`
	PollTimeout time.Duration `mapstructure:"poll-timeout"`
	Metrics     bool          `mapstructure:"metrics"`
	LogLevel    string        `mapstructure:"log-level"`
	// RateLimit messages per RateWindow for a connection, off when zero.
	RateLimit  uint64        `mapstructure:"rate-limit"`
	RateWindow time.Duration `mapstructure:"rate-window"`
	// Redis URL makes the rate limit shared between instances.
	Redis string `mapstructure:"redis"`
}

func bindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.IntP("port", "p", 8080, "Port to listen on")
	fs.StringP("host", "H", "", "Host to bind to")
	fs.String("cert", "", "TLS certificate file")
	fs.String("key", "", "TLS key file")
	fs.String("path", "/", "WebSocket endpoint path")
	fs.StringSlice("origins", nil, "Allowed origins, any when empty")
	fs.Duration("poll-timeout", 100*time.Millisecond, "Max wait of one poll iteration")
	fs.Bool("metrics", true, "Serve prometheus metrics on /metrics")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.Uint64("rate-limit", 0, "Messages per rate window and connection, 0 disables")
	fs.Duration("rate-window", time.Second, "Rate limit sliding window")
	fs.String("redis", "", "Redis URL for a shared rate limit, in memory when empty")
}

// loadConfig merges flags, WSCHAT_* environment variables and the optional config file.
func loadConfig(fs *pflag.FlagSet) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix("wschat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func (c *config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
