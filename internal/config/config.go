package config

import "time"

// LiveKitConfig holds credentials for voice-channel join tokens.
// Voice channels work without it; the token endpoint just reports
// that voice is disabled.
type LiveKitConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	URL       string `mapstructure:"url" yaml:"url"`
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DefaultServer     string        `mapstructure:"default_server" yaml:"default_server"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	LiveKit           LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DatabasePath:      "parley.db",
		LogLevel:          "info",
		DefaultServer:     "general",
		UploadDir:         "uploads",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		WriteTimeout:      10 * time.Second,
		EventBuffer:       32,
		JWTSecret:         "change-me",
		JWTIssuer:         "parley",
		JWTAudience:       "parley-clients",
	}
}
