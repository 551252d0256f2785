// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirov-dev/fiberchan/internal/wire"
)

// ClientConfig is the full YAML configuration for cmd/rpc-client.
type ClientConfig struct {
	Client  ClientInfo    `yaml:"client"`
	Server  ServerAddr    `yaml:"server"`
	Channel ChannelTuning `yaml:"channel"`
	Codec   CodecConfig   `yaml:"compression"`
	DSCP    DSCPConfig    `yaml:"priority_dscp"`
	Logging LoggingInfo   `yaml:"logging"`
}

// ClientInfo identifies this client instance in logs.
type ClientInfo struct {
	Name string `yaml:"name"`
}

// ServerAddr is the TCP endpoint a client channel dials.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// ChannelTuning holds the client channel's reconnect, buffering and
// transport knobs.
type ChannelTuning struct {
	KeepAliveTimeout      time.Duration `yaml:"keep_alive_timeout"`
	BackoffBase           time.Duration `yaml:"backoff_base"`
	BufferCapacity        int           `yaml:"buffer_capacity"`
	OverflowBucket        string        `yaml:"overflow_bucket"`
	ThrottleBytesPerSec   string        `yaml:"throttle_bytes_per_sec"` // e.g. "1mb", "" disables
	ThrottleBytesPerSecRaw int64        `yaml:"-"`
	MaxFramePayload       string        `yaml:"max_frame_payload"` // e.g. "16kb"
	MaxFramePayloadRaw    int           `yaml:"-"`
}

// CodecConfig selects the payload compression mode.
type CodecConfig struct {
	Mode string `yaml:"mode"` // "none" (or ""), "gzip", "zstd"
}

// DSCPConfig maps named priorities to DSCP code point names, parallel
// to wire.DefaultPriorityDSCP's priority->name table.
type DSCPConfig struct {
	BestEffort string `yaml:"best_effort"`
	Elevated   string `yaml:"elevated"`
	High       string `yaml:"high"`
	Expedited  string `yaml:"expedited"`
}

// LoggingInfo configures internal/logging.NewLogger.
type LoggingInfo struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
	// ChannelLogDir, if set, makes cmd/rpc-client and cmd/rpc-server
	// additionally write a dedicated per-channel, per-attempt log file
	// under {ChannelLogDir}/{channel_id}/attempt-{n}.log (see
	// internal/logging.SessionLog). Empty disables it.
	ChannelLogDir string `yaml:"channel_log_dir"`
}

// LoadClientConfig reads and validates the YAML configuration file for
// cmd/rpc-client.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	if c.Channel.KeepAliveTimeout <= 0 {
		c.Channel.KeepAliveTimeout = 10 * time.Minute
	}
	if c.Channel.BackoffBase <= 0 {
		c.Channel.BackoffBase = 1 * time.Second
	}
	if c.Channel.BufferCapacity <= 0 {
		c.Channel.BufferCapacity = 1024
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

// PriorityDSCPTable builds a wire priority->DSCP-name map from the
// configured names only. A priority the operator left blank is simply
// absent from the returned table; wire.ApplyDSCP falls back to
// wire.DefaultPriorityDSCP for any priority it doesn't find.
func (c *DSCPConfig) PriorityDSCPTable() wire.PriorityDSCPTable {
	table := make(wire.PriorityDSCPTable, 4)
	if c.BestEffort != "" {
		table[0] = c.BestEffort
	}
	if c.Elevated != "" {
		table[1] = c.Elevated
	}
	if c.High != "" {
		table[2] = c.High
	}
	if c.Expedited != "" {
		table[3] = c.Expedited
	}
	return table
}
