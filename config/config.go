// Package config holds the SessionConfig recognized options (spec.md §9)
// plus the ambient gateway/logging configuration loaded around them.
package config

import "time"

// Config is the top-level configuration for the mav-gateway process.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig lifts the magic retry/timeout constants named in spec.md §9
// out of the engines and into recognized, overridable options. Fields are
// named after the spec's recognized options; durations are stored in the
// unit their name carries and converted with the Duration-returning
// accessors below.
type SessionConfig struct {
	CommandDefaultRetries  uint8   `yaml:"command_default_retries"`
	CommandDefaultTimeoutMs uint32 `yaml:"command_default_timeout_ms"`
	MissionTimeoutS        float32 `yaml:"mission_timeout_s"`
	FollowTargetRateHz     float32 `yaml:"follow_target_rate_hz"`
	LocalUDPPort           uint16  `yaml:"local_udp_port"`
	ParamDefaultRetries    uint8   `yaml:"param_default_retries"`
	ParamDefaultTimeoutMs  uint32  `yaml:"param_default_timeout_ms"`
	HeartbeatLossTimeoutMs uint32  `yaml:"heartbeat_loss_timeout_ms"`
}

// CommandTimeout returns the command ack timeout as a time.Duration.
func (s SessionConfig) CommandTimeout() time.Duration {
	return time.Duration(s.CommandDefaultTimeoutMs) * time.Millisecond
}

// ParamTimeout returns the parameter ack timeout as a time.Duration.
func (s SessionConfig) ParamTimeout() time.Duration {
	return time.Duration(s.ParamDefaultTimeoutMs) * time.Millisecond
}

// MissionTimeout returns the mission transfer step timeout as a time.Duration.
func (s SessionConfig) MissionTimeout() time.Duration {
	return time.Duration(s.MissionTimeoutS * float32(time.Second))
}

// HeartbeatLossTimeout returns the peer-liveness timeout as a time.Duration.
func (s SessionConfig) HeartbeatLossTimeout() time.Duration {
	return time.Duration(s.HeartbeatLossTimeoutMs) * time.Millisecond
}

// FollowTargetPeriod returns the follow-me streaming period as a time.Duration.
func (s SessionConfig) FollowTargetPeriod() time.Duration {
	return time.Duration(float64(time.Second) / float64(s.FollowTargetRateHz))
}

// LoggingConfig mirrors the teacher's logging config shape.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxAge   int    `yaml:"max_age"`
	Compress bool   `yaml:"compress"`
}

// DefaultConfig returns the recognized defaults from spec.md §9.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			CommandDefaultRetries:   3,
			CommandDefaultTimeoutMs: 500,
			MissionTimeoutS:         1.0,
			FollowTargetRateHz:      1.0,
			LocalUDPPort:            14540,
			ParamDefaultRetries:     3,
			ParamDefaultTimeoutMs:   500,
			HeartbeatLossTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			Output:    "console",
			MaxSizeMB: 100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}
