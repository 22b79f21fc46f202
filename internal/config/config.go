package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ripplechat/client-go/internal/log"
)

type Config struct {
	Chat      ChatConfig
	Server    ServerConfig
	WebSocket WebSocketConfig
	Reconnect ReconnectConfig
	Typing    TypingConfig
	Media     MediaConfig
	Identity  IdentityConfig
	Log       log.Config
}

type ChatConfig struct {
	Channel string
}

type ServerConfig struct {
	WSURL  string `mapstructure:"ws_url"`
	APIURL string `mapstructure:"api_url"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

type ReconnectConfig struct {
	Delay       time.Duration `mapstructure:"delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

type TypingConfig struct {
	Inactivity time.Duration `mapstructure:"inactivity"`
	RemoteTTL  time.Duration `mapstructure:"remote_ttl"`
}

type MediaConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

type IdentityConfig struct {
	Path string
}

func Load() (*Config, error) {
	v, err := load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("chat.channel", "general")
	v.SetDefault("server.ws_url", "ws://localhost:8000")
	v.SetDefault("server.api_url", "http://localhost:8000")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.history_limit", 50)
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("reconnect.delay", "3s")
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.multiplier", 1.0)
	v.SetDefault("reconnect.jitter", 0.0)
	v.SetDefault("typing.inactivity", "2s")
	v.SetDefault("typing.remote_ttl", "5s")
	v.SetDefault("media.max_duration", "60s")
	v.SetDefault("identity.path", "identity.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("chat.channel", "CHAT_CHANNEL")
	v.BindEnv("server.ws_url", "CHAT_WS_URL")
	v.BindEnv("server.api_url", "CHAT_API_URL")
	v.BindEnv("identity.path", "CHAT_IDENTITY_PATH")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.RequestTimeout = parseDuration(v, "server.request_timeout", 10*time.Second)
	cfg.WebSocket.HandshakeTimeout = parseDuration(v, "websocket.handshake_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Reconnect.Delay = parseDuration(v, "reconnect.delay", 3*time.Second)
	cfg.Typing.Inactivity = parseDuration(v, "typing.inactivity", 2*time.Second)
	cfg.Typing.RemoteTTL = parseDuration(v, "typing.remote_ttl", 5*time.Second)
	cfg.Media.MaxDuration = parseDuration(v, "media.max_duration", 60*time.Second)

	return &cfg, nil
}

// load reads configuration from file and environment variables.
// configPath is the directory containing config files, configName
// the file name without extension.
func load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil // Config file not found, rely on env vars
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
