// Package config loads tool settings from a YAML file and DUPLEX_*
// environment variables, the environment winning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"duplex/internal/session"
)

const (
	DefaultChunkSizeKiB    = 64
	DefaultRotationMiB     = 10
	DefaultRotationSeconds = 300
	DefaultMaxSkip         = 1000
	DefaultLogLevel        = "info"
)

// Config holds the protocol tunables in file-friendly units.
type Config struct {
	ChunkSizeKiB    int    `yaml:"chunk_size_kib"`
	RotationMiB     int    `yaml:"rotation_mib"`
	RotationSeconds int    `yaml:"rotation_seconds"`
	MaxSkip         int    `yaml:"max_skip"`
	LogLevel        string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ChunkSizeKiB:    DefaultChunkSizeKiB,
		RotationMiB:     DefaultRotationMiB,
		RotationSeconds: DefaultRotationSeconds,
		MaxSkip:         DefaultMaxSkip,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads a YAML file and overlays it on the defaults. Keys absent from
// the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromEnv overlays DUPLEX_* environment variables on c.
func (c Config) FromEnv() (Config, error) {
	ints := []struct {
		name string
		dst  *int
	}{
		{"DUPLEX_CHUNK_KIB", &c.ChunkSizeKiB},
		{"DUPLEX_ROTATION_MIB", &c.RotationMiB},
		{"DUPLEX_ROTATION_SECONDS", &c.RotationSeconds},
		{"DUPLEX_MAX_SKIP", &c.MaxSkip},
	}
	for _, v := range ints {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = n
	}
	if raw := os.Getenv("DUPLEX_LOG_LEVEL"); raw != "" {
		c.LogLevel = raw
	}
	return c, c.Validate()
}

// Validate rejects settings the protocol cannot run with.
func (c Config) Validate() error {
	if c.ChunkSizeKiB <= 0 {
		return fmt.Errorf("chunk_size_kib must be positive, got %d", c.ChunkSizeKiB)
	}
	if c.RotationMiB <= 0 {
		return fmt.Errorf("rotation_mib must be positive, got %d", c.RotationMiB)
	}
	if c.RotationSeconds <= 0 {
		return fmt.Errorf("rotation_seconds must be positive, got %d", c.RotationSeconds)
	}
	if c.MaxSkip <= 0 {
		return fmt.Errorf("max_skip must be positive, got %d", c.MaxSkip)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Session converts the file-level units into a session configuration.
func (c Config) Session(log *logrus.Logger) session.Config {
	return session.Config{
		ChunkSize:        c.ChunkSizeKiB * 1024,
		RotationBytes:    uint64(c.RotationMiB) * 1024 * 1024,
		RotationInterval: time.Duration(c.RotationSeconds) * time.Second,
		MaxSkip:          c.MaxSkip,
		Logger:           log,
	}
}
