// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the full YAML configuration for cmd/rpc-server.
type ServerConfig struct {
	Server  ServerListen  `yaml:"server"`
	Channel ChannelTuning `yaml:"channel"`
	Codec   CodecConfig   `yaml:"compression"`
	DSCP    DSCPConfig    `yaml:"priority_dscp"`
	Logging LoggingInfo   `yaml:"logging"`
}

// ServerListen is the TCP listen address and accept-loop tuning.
type ServerListen struct {
	ListenAddr            string        `yaml:"listen_addr"`
	AcceptErrorBackoffMax time.Duration `yaml:"accept_error_backoff_max"`
}

// LoadServerConfig reads and validates the YAML configuration file for
// cmd/rpc-server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.AcceptErrorBackoffMax <= 0 {
		c.Server.AcceptErrorBackoffMax = 30 * time.Second
	}

	if c.Channel.ThrottleBytesPerSec != "" {
		raw, err := ParseByteSize(c.Channel.ThrottleBytesPerSec)
		if err != nil {
			return fmt.Errorf("channel.throttle_bytes_per_sec: %w", err)
		}
		c.Channel.ThrottleBytesPerSecRaw = raw
	}

	if c.Channel.MaxFramePayload == "" {
		c.Channel.MaxFramePayload = "16kb"
	}
	payload, err := ParseByteSize(c.Channel.MaxFramePayload)
	if err != nil {
		return fmt.Errorf("channel.max_frame_payload: %w", err)
	}
	c.Channel.MaxFramePayloadRaw = int(payload)

	if c.Codec.Mode == "" {
		c.Codec.Mode = "none"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
