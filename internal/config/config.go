package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the application configuration, read from a config file or
// environment variables.
type Config struct {
	ServerURL      string   `mapstructure:"SERVER_URL"`
	Username       string   `mapstructure:"USERNAME"`
	AccessToken    string   `mapstructure:"ACCESS_TOKEN"`
	SyncFolder     string   `mapstructure:"SYNC_FOLDER"`
	CacheDir       string   `mapstructure:"CACHE_DIR"`
	DatabasePath   string   `mapstructure:"DATABASE_PATH"`
	DeviceClass    string   `mapstructure:"DEVICE_CLASS"`
	IgnorePatterns []string `mapstructure:"IGNORE_PATTERNS"`
	WatchFS        bool     `mapstructure:"WATCH_FILESYSTEM"`
	Verbose        bool     `mapstructure:"VERBOSE"`
}

// DataDir returns ~/.davsync, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".davsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads configuration from <path>/config.json and the environment.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetEnvPrefix("DAVSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("DEVICE_CLASS", "desktop")
	viper.SetDefault("WATCH_FILESYSTEM", true)
	viper.SetDefault("CACHE_DIR", filepath.Join(dataDir, "cache"))
	viper.SetDefault("DATABASE_PATH", filepath.Join(dataDir, "state.db"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("USERNAME is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("ACCESS_TOKEN is required")
	}
	return nil
}
