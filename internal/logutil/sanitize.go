package logutil

import (
	"net"
	"strconv"
	"strings"
)

// SanitizeForLog flattens user-provided strings before they reach the log so
// that embedded newlines cannot forge extra log entries. Newlines, carriage
// returns and tabs become spaces; other control characters are dropped.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return ' '
		case r < 32 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// Target renders "user@host:port" for log lines, sanitising every part.
// It never includes authentication material.
func Target(username, host string, port int) string {
	addr := net.JoinHostPort(SanitizeForLog(host), strconv.Itoa(port))
	if username == "" {
		return addr
	}
	return SanitizeForLog(username) + "@" + addr
}
