// ABOUTME: YAML configuration for the stub server binary.
// ABOUTME: Listen address, seeded users, and logging level.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plazalocal/plaza-chat/internal/message"
)

// Config is the stub server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Users   []SeedUser    `yaml:"users"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SeedUser pre-registers a participant so conversations resolve names
// without a sign-up flow.
type SeedUser struct {
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	StoreName    string `yaml:"store_name"`
	ProfileImage string `yaml:"profile_image"`
}

// LoggingConfig holds the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Participant converts a seed entry into the wire model.
func (u SeedUser) Participant() message.Participant {
	return message.Participant{
		ID:           u.ID,
		Username:     u.Username,
		StoreName:    u.StoreName,
		ProfileImage: u.ProfileImage,
	}
}

// loadConfig reads the YAML config at path; a missing path yields defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{
		Server:  ServerConfig{Addr: ":8390"},
		Logging: LoggingConfig{Level: "info"},
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8390"
	}
	return cfg, nil
}
