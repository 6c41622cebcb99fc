package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// engine policies
	AutoCreateRooms     bool          `mapstructure:"auto_create_rooms" yaml:"auto_create_rooms"`
	AllowMultiSession   bool          `mapstructure:"allow_multi_session" yaml:"allow_multi_session"`
	HistoryLimit        int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxMessageBytes     int           `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	BroadcastTimeout    time.Duration `mapstructure:"broadcast_timeout" yaml:"broadcast_timeout"`
	WSMessagesPerMinute int           `mapstructure:"ws_messages_per_minute" yaml:"ws_messages_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,

		LogLevel:     "info",
		DatabasePath: "parley.db",

		JWTSecret:   "change-me",
		JWTIssuer:   "parley-server",
		JWTAudience: "parley-clients",

		AutoCreateRooms:     true,
		AllowMultiSession:   true,
		HistoryLimit:        50,
		MaxMessageBytes:     4096,
		BroadcastTimeout:    time.Second,
		WSMessagesPerMinute: 120,
	}
}
