package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML config file, merging over DefaultConfig and
// validating the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field legality and fills logging defaults left blank.
func Validate(cfg *Config) error {
	if cfg.Session.LocalUDPPort == 0 {
		return fmt.Errorf("invalid session.local_udp_port: %d", cfg.Session.LocalUDPPort)
	}
	if cfg.Session.CommandDefaultTimeoutMs == 0 {
		return fmt.Errorf("invalid session.command_default_timeout_ms: %d", cfg.Session.CommandDefaultTimeoutMs)
	}
	if cfg.Session.MissionTimeoutS <= 0 {
		return fmt.Errorf("invalid session.mission_timeout_s: %f", cfg.Session.MissionTimeoutS)
	}
	if cfg.Session.FollowTargetRateHz <= 0 {
		return fmt.Errorf("invalid session.follow_target_rate_hz: %f", cfg.Session.FollowTargetRateHz)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output=file")
	}
	return nil
}
