// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package wire

import (
	"net"
	"testing"
)

func TestParseDSCP(t *testing.T) {
	cases := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"ef", 46, false},
		{"EF", 46, false},
		{"AF11", 10, false},
		{"AF43", 38, false},
		{"CS7", 56, false},
		{"bogus", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDSCP(tc.name)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDSCP(%q) expected error", tc.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDSCP(%q): %v", tc.name, err)
			}
			if got != tc.want {
				t.Errorf("ParseDSCP(%q) = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestDefaultPriorityDSCPCoversKnownPriorities(t *testing.T) {
	for priority := uint8(0); priority <= 3; priority++ {
		name, ok := DefaultPriorityDSCP[priority]
		if !ok {
			t.Errorf("priority %d missing from DefaultPriorityDSCP", priority)
			continue
		}
		if _, err := ParseDSCP(name); err != nil {
			t.Errorf("priority %d maps to unparseable DSCP name %q: %v", priority, name, err)
		}
	}
}

func TestApplyDSCPBestEffortPriorityIsNoop(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Priority 0 resolves to "" (best-effort) in DefaultPriorityDSCP, so
	// this never reaches the syscall path even on a non-TCP conn.
	if err := ApplyDSCP(client, nil, 0); err != nil {
		t.Errorf("ApplyDSCP for priority 0 should be a no-op, got %v", err)
	}
}

func TestApplyDSCPOnNonTCPConnReturnsError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Priority 3 resolves to EF (46) in DefaultPriorityDSCP, which does
	// require the syscall path.
	err := ApplyDSCP(client, nil, 3)
	if err == nil {
		t.Fatal("expected an error applying DSCP to a non-TCP net.Conn")
	}
}

func TestApplyDSCPUsesCallerTableOverDefault(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Overriding priority 0 to a non-empty DSCP name should force the
	// syscall path even though DefaultPriorityDSCP treats it as
	// best-effort.
	err := ApplyDSCP(client, PriorityDSCPTable{0: "CS1"}, 0)
	if err == nil {
		t.Fatal("expected an error applying a caller-overridden DSCP to a non-TCP net.Conn")
	}
}

func TestApplyDSCPUnknownNameInTableReturnsError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	err := ApplyDSCP(client, PriorityDSCPTable{0: "bogus"}, 0)
	if err == nil {
		t.Fatal("expected an error for an unresolvable DSCP name")
	}
}
