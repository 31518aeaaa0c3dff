package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultChunkSize is the largest raw (pre-base64) chunk: 18 MiB raw
	// encodes to 24 MiB.
	DefaultChunkSize = 18 * 1024 * 1024
	// MaxAttachmentSize is the platform's single-attachment limit.
	MaxAttachmentSize = 25 * 1024 * 1024
	// MaxPageSize is the largest page the message listing endpoint accepts.
	MaxPageSize = 100
)

var (
	ErrMissingToken     = errors.New("bot token must be set")
	ErrInvalidChunkSize = errors.New("chunk_size must be positive and encode within the attachment limit")
	ErrInvalidPageSize  = errors.New("page_size must be between 1 and 100")
	ErrInvalidTimeout   = errors.New("request_timeout must be positive")
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Token          string        `mapstructure:"token"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	DBPath         string        `mapstructure:"db_path"`
	DownloadDir    string        `mapstructure:"download_dir"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Debug          bool          `mapstructure:"debug"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("token", "")
	v.SetDefault("api_base_url", "https://discord.com/api/v10")
	v.SetDefault("listen_addr", "127.0.0.1:8000")
	v.SetDefault("db_path", "./data/index")
	v.SetDefault("download_dir", "./downloads")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("page_size", MaxPageSize)
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("max_retries", 3)
	v.SetDefault("debug", false)
}

// LoadConfig reads config.yaml from path using the global viper instance,
// so flags bound by the CLI take precedence.
func LoadConfig(path string) (*AppConfig, error) {
	return Load(viper.GetViper(), path)
}

// Load reads configuration through v. A missing config file is not an error.
func Load(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("THREADBYTE")
	v.AutomaticEnv()
	// The bot token has always been read from a bare TOKEN variable.
	if err := v.BindEnv("token", "THREADBYTE_TOKEN", "TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind token env: %w", err)
	}

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("⚠️ Could not find config file, using defaults")
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &appConfig, nil
}

// EncodedChunkSize is the base64 size of a full raw chunk.
func (c *AppConfig) EncodedChunkSize() int {
	return 4 * ((c.ChunkSize + 2) / 3)
}

// Validate checks the settings needed by the store. The token is checked
// separately by commands that talk to the platform.
func (c *AppConfig) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > DefaultChunkSize || c.EncodedChunkSize() > MaxAttachmentSize {
		return ErrInvalidChunkSize
	}
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		return ErrInvalidPageSize
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// RequireToken reports ErrMissingToken when no bot token is configured.
func (c *AppConfig) RequireToken() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	return nil
}
