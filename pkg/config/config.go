/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/writer"
)

// Config represents the mcapkit configuration
type Config struct {
	Writer  Writer  `yaml:"writer"`
	Reader  Reader  `yaml:"reader"`
	Catalog Catalog `yaml:"catalog"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

// Writer holds defaults for files written by convert
type Writer struct {
	Chunked          bool   `yaml:"chunked"`
	ChunkSize        int64  `yaml:"chunk_size"`
	Compression      string `yaml:"compression"`
	IncludeCRC       bool   `yaml:"include_crc"`
	SkipMessageIndex bool   `yaml:"skip_message_index"`
	Profile          string `yaml:"profile"`
	Library          string `yaml:"library"`
}

// Reader holds the read policy
type Reader struct {
	Mode     string `yaml:"mode"`
	UseIndex bool   `yaml:"use_index"`
}

// Catalog contains catalog storage configuration
type Catalog struct {
	DataDir string `yaml:"data_dir"`
}

// Server contains HTTP server configuration
type Server struct {
	Port   int    `yaml:"port"`
	Bind   string `yaml:"bind"`
	APIKey string `yaml:"api_key"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Writer: Writer{
			Chunked:     true,
			ChunkSize:   writer.DefaultChunkSize,
			Compression: compress.Zstd,
			IncludeCRC:  true,
			Library:     "mcapkit",
		},
		Reader: Reader{
			Mode:     reader.BestEffort.String(),
			UseIndex: true,
		},
		Catalog: Catalog{
			DataDir: "./data",
		},
		Server: Server{
			Port:   8080,
			Bind:   "127.0.0.1",
			APIKey: "auto",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// fields missing from the file keep their defaults
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig creates and saves a configuration with a generated API key
func BootstrapConfig(configPath string, dataDir string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.Catalog.DataDir = dataDir
	}

	apiKey, err := GenerateSecureKey(32) // 256 bits
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	config.Server.APIKey = apiKey

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./mcapkit.yaml"
	}

	// ~/.config/mcapkit/config.yaml on Linux and macOS
	configDir := filepath.Join(homeDir, ".config", "mcapkit")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error

	if c.Writer.Chunked && c.Writer.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("writer.chunk_size must be positive, got %d", c.Writer.ChunkSize))
	}
	if _, err := compress.Default().Lookup(c.Writer.Compression); err != nil {
		errs = append(errs, fmt.Errorf("writer.compression: %w", err))
	}
	if _, ok := reader.ParseMode(c.Reader.Mode); !ok {
		errs = append(errs, fmt.Errorf("reader.mode must be strict or best-effort, got %q", c.Reader.Mode))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// WriterOptions returns writer options for the configured defaults
func (c *Config) WriterOptions() writer.Options {
	return writer.Options{
		Chunked:          c.Writer.Chunked,
		ChunkSize:        c.Writer.ChunkSize,
		Compression:      c.Writer.Compression,
		IncludeCRC:       c.Writer.IncludeCRC,
		SkipMessageIndex: c.Writer.SkipMessageIndex,
	}
}

// ReaderOptions returns reader options for the configured policy
func (c *Config) ReaderOptions(logger logrus.FieldLogger) reader.Options {
	mode, _ := reader.ParseMode(c.Reader.Mode)
	return reader.Options{
		Mode:         mode,
		Logger:       logger,
		DisableIndex: !c.Reader.UseIndex,
	}
}
