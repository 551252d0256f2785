// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package wire

import (
	"fmt"
	"net"
	"strings"
	"syscall"
)

// dscpValues maps DSCP names (RFC 2474/4594) to their 6-bit code
// points. To set IP_TOS, shift left 2 (TOS = DSCP<<2 | ECN).
var dscpValues = map[string]int{
	"EF": 46,

	"AF11": 10, "AF12": 12, "AF13": 14,
	"AF21": 18, "AF22": 20, "AF23": 22,
	"AF31": 26, "AF32": 28, "AF33": 30,
	"AF41": 34, "AF42": 36, "AF43": 38,

	"CS0": 0, "CS1": 8, "CS2": 16, "CS3": 24,
	"CS4": 32, "CS5": 40, "CS6": 48, "CS7": 56,
}

// PriorityDSCPTable maps MessageHeader.Priority values to a DSCP name.
// Priority remains an opaque hint to the channel core; ApplyDSCP is the
// only place that turns it into a wire-level marking.
type PriorityDSCPTable map[uint8]string

// DefaultPriorityDSCP is the table ApplyDSCP consults for any priority
// missing from the caller's table, and the whole table when the caller
// passes nil.
var DefaultPriorityDSCP = PriorityDSCPTable{
	0: "",     // best-effort, no marking
	1: "AF21", // elevated
	2: "AF31", // high
	3: "EF",   // expedited
}

// parseDSCP converts a DSCP name to its numeric code point. An empty
// name returns 0, nil (disabled).
func parseDSCP(name string) (int, error) {
	name = strings.TrimSpace(strings.ToUpper(name))
	if name == "" {
		return 0, nil
	}
	val, ok := dscpValues[name]
	if !ok {
		return 0, fmt.Errorf("wire: unknown DSCP value %q (valid: EF, AF11..AF43, CS0..CS7)", name)
	}
	return val, nil
}

// ParseDSCP converts a DSCP name to its numeric code point. Exposed
// standalone for config validation, which needs to reject a bad DSCP
// name before a connection ever exists to apply it to.
func ParseDSCP(name string) (int, error) {
	return parseDSCP(name)
}

// ApplyDSCP resolves priority against table (falling back to
// DefaultPriorityDSCP when table is nil or leaves priority
// unconfigured) and sets the resulting code point as conn's IP_TOS in
// one step, so a caller never holds a bare numeric code point it
// sourced from a table lookup it did itself. A resolved code point of
// 0 is a no-op. Returns an error (rather than panicking) when conn
// isn't a *net.TCPConn or the platform doesn't support raw socket
// control, since DSCP marking is always best-effort and never
// observable by the channel core.
func ApplyDSCP(conn net.Conn, table PriorityDSCPTable, priority uint8) error {
	name, ok := table[priority]
	if !ok {
		name = DefaultPriorityDSCP[priority]
	}

	dscp, err := parseDSCP(name)
	if err != nil {
		return fmt.Errorf("wire: resolving DSCP for priority %d: %w", priority, err)
	}
	if dscp == 0 {
		return nil
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("wire: cannot apply DSCP: conn is %T, not *net.TCPConn", conn)
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("wire: getting raw conn for DSCP: %w", err)
	}

	tosValue := dscp << 2

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tosValue)
	}); err != nil {
		return fmt.Errorf("wire: control fd for DSCP: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("wire: setsockopt IP_TOS=%d: %w", tosValue, sysErr)
	}

	return nil
}
