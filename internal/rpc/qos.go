// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"fmt"
	"net"
	"strings"
	"syscall"
)

// dscpValues maps DSCP names (RFC 2474/4594) to their 6-bit code points.
// The value is the DSCP code point, not the full TOS byte.
var dscpValues = map[string]int{
	"EF": 46,

	"AF11": 10, "AF12": 12, "AF13": 14,
	"AF21": 18, "AF22": 20, "AF23": 22,
	"AF31": 26, "AF32": 28, "AF33": 30,
	"AF41": 34, "AF42": 36, "AF43": 38,

	"CS0": 0, "CS1": 8, "CS2": 16, "CS3": 24,
	"CS4": 32, "CS5": 40, "CS6": 48, "CS7": 56,
}

// ParseDSCP converts a DSCP class name ("AF41", "EF", ...) to its numeric
// code point. An empty string returns 0, nil (DSCP marking disabled) —
// config.StreamConfig.DSCPClass leaves this empty by default.
func ParseDSCP(name string) (int, error) {
	name = strings.TrimSpace(strings.ToUpper(name))
	if name == "" {
		return 0, nil
	}

	val, ok := dscpValues[name]
	if !ok {
		return 0, fmt.Errorf("rpc: unknown DSCP class %q (valid: EF, AF11..AF43, CS0..CS7)", name)
	}
	return val, nil
}

// applyDSCP sets the TOS field on a TCP connection so routers along the
// path prioritize a NodeGroup's stream traffic over best-effort RPC
// control traffic. A no-op when dscp == 0.
func applyDSCP(conn net.Conn, dscp int) error {
	if dscp == 0 {
		return nil
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("rpc: cannot apply DSCP: conn is %T, not *net.TCPConn", conn)
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("rpc: getting raw conn for DSCP: %w", err)
	}

	tosValue := dscp << 2 // TOS = DSCP(6 bits) << 2 | ECN(2 bits, left 0)

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tosValue)
	}); err != nil {
		return fmt.Errorf("rpc: control fd for DSCP: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("rpc: setsockopt IP_TOS=%d: %w", tosValue, sysErr)
	}

	return nil
}
