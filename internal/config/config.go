package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Nick    string
	Port    int
	WebPort int
	DataDir string

	// RetryInterval is the fixed delay between connect attempts to a discovered peer.
	RetryInterval time.Duration
	// MaxConnectAttempts bounds attempts per discovery; 0, the default, means unlimited.
	MaxConnectAttempts int
	// ForwardGuardTTL turns on message id stamping and forward suppression of
	// ids seen within the TTL. 0, the default, forwards unconditionally.
	ForwardGuardTTL time.Duration
	EventBuffer     int

	Headless bool
	LogLevel string
	LogFile  string
}

func Default() Config {
	return Config{
		Nick:          "Anonymous",
		Port:          9000,
		WebPort:       8080,
		DataDir:       ".",
		RetryInterval: 5 * time.Second,
		EventBuffer:   256,
		LogLevel:      "info",
		LogFile:       "debug.log",
	}
}

// Validate fills zero values with defaults and rejects impossible settings.
func (c *Config) Validate() error {
	def := Default()
	if c.Nick == "" {
		c.Nick = def.Nick
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("max connect attempts must not be negative: %d", c.MaxConnectAttempts)
	}
	if c.ForwardGuardTTL < 0 {
		c.ForwardGuardTTL = 0
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WebPort < 0 || c.WebPort > 65535 {
		return fmt.Errorf("invalid web port %d", c.WebPort)
	}
	return nil
}

// ApplyEnv overrides fields from MESHAGE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MESHAGE_HEADLESS"); v != "" {
		c.Headless, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("MESHAGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MESHAGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("meshage_%d.db", c.Port))
}
