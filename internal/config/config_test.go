// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: "127.0.0.1:9000"
`)

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}

	if cfg.Channel.KeepAliveTimeout != 10*time.Minute {
		t.Errorf("KeepAliveTimeout default = %v, want 10m", cfg.Channel.KeepAliveTimeout)
	}
	if cfg.Channel.BackoffBase != 1*time.Second {
		t.Errorf("BackoffBase default = %v, want 1s", cfg.Channel.BackoffBase)
	}
	if cfg.Channel.BufferCapacity != 1024 {
		t.Errorf("BufferCapacity default = %d, want 1024", cfg.Channel.BufferCapacity)
	}
	if cfg.Channel.MaxFramePayloadRaw != 16*1024 {
		t.Errorf("MaxFramePayloadRaw default = %d, want 16384", cfg.Channel.MaxFramePayloadRaw)
	}
	if cfg.Codec.Mode != "none" {
		t.Errorf("Codec.Mode default = %q, want none", cfg.Codec.Mode)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadClientConfigMissingAddress(t *testing.T) {
	path := writeTempConfig(t, "client:\n  name: test\n")

	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected error for missing server.address")
	}
}

func TestLoadClientConfigThrottleAndPayload(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: "127.0.0.1:9000"
channel:
  throttle_bytes_per_sec: "1mb"
  max_frame_payload: "32kb"
`)

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Channel.ThrottleBytesPerSecRaw != 1024*1024 {
		t.Errorf("ThrottleBytesPerSecRaw = %d, want %d", cfg.Channel.ThrottleBytesPerSecRaw, 1024*1024)
	}
	if cfg.Channel.MaxFramePayloadRaw != 32*1024 {
		t.Errorf("MaxFramePayloadRaw = %d, want %d", cfg.Channel.MaxFramePayloadRaw, 32*1024)
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  listen_addr: ":9000"
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Server.AcceptErrorBackoffMax != 30*time.Second {
		t.Errorf("AcceptErrorBackoffMax default = %v, want 30s", cfg.Server.AcceptErrorBackoffMax)
	}
}

func TestLoadServerConfigMissingListenAddr(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: debug\n")

	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected error for missing server.listen_addr")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1kb", 1024, false},
		{"1mb", 1024 * 1024, false},
		{"2gb", 2 * 1024 * 1024 * 1024, false},
		{"", 0, true},
		{"notanumber", 0, true},
		{"0", 0, true},
		{"-1mb", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseByteSize(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseByteSize(%q) expected error, got %d", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseByteSize(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestPriorityDSCPTableOnlyContainsConfiguredOverrides(t *testing.T) {
	dscp := DSCPConfig{High: "CS5"}
	table := dscp.PriorityDSCPTable()

	if table[2] != "CS5" {
		t.Errorf("table[2] = %q, want CS5 (overridden)", table[2])
	}
	if _, ok := table[3]; ok {
		t.Errorf("table[3] present with value %q, want absent so wire.ApplyDSCP falls back to its default", table[3])
	}
	if len(table) != 1 {
		t.Errorf("len(table) = %d, want 1 (only the one override)", len(table))
	}
}
