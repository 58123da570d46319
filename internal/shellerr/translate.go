// Package shellerr turns remote shell failures into short messages that are
// safe to show a browser user.
package shellerr

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/gluk-w/claworc/shellrelay/internal/shell"
)

// Kind classifies a translated failure.
type Kind int

const (
	Unknown Kind = iota
	AuthenticationFailed
	ConnectionRefused
	HostUnreachable
	TimedOut
	ShellError
)

func (k Kind) String() string {
	switch k {
	case AuthenticationFailed:
		return "authentication_failed"
	case ConnectionRefused:
		return "connection_refused"
	case HostUnreachable:
		return "host_unreachable"
	case TimedOut:
		return "timed_out"
	case ShellError:
		return "shell_error"
	default:
		return "unknown"
	}
}

// FallbackMessage is used when an error carries no text at all.
const FallbackMessage = "Failed to initiate connection."

// Translate classifies err and renders the user-facing message. Only the
// host and port of creds are ever used.
func Translate(err error, creds shell.Credentials) (Kind, string) {
	host := creds.Host
	addr := host + ":" + strconv.Itoa(creds.EffectivePort())

	switch {
	case err == nil:
		return Unknown, FallbackMessage
	case errors.Is(err, shell.ErrShell):
		return ShellError, "Shell error: " + shellDetail(err)
	case errors.Is(err, shell.ErrKeepalive):
		return TimedOut, "Connection to " + host + " timed out."
	}

	msg := err.Error()
	switch {
	case isAuthFailure(msg):
		return AuthenticationFailed, "Authentication failed. Check your credentials."
	case errors.Is(err, syscall.ECONNREFUSED), strings.Contains(msg, "connection refused"):
		return ConnectionRefused, "Connection refused by " + addr + "."
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout || strings.Contains(msg, "no such host") {
		return HostUnreachable, "Host not found: " + host
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return HostUnreachable, "Host unreachable: " + host
	}

	if isTimeout(err) {
		return TimedOut, "Connection to " + host + " timed out."
	}

	if msg == "" {
		return Unknown, FallbackMessage
	}
	return Unknown, msg
}

func isAuthFailure(msg string) bool {
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// shellDetail strips the ErrShell prefix so the user sees only the cause.
func shellDetail(err error) string {
	detail := strings.TrimPrefix(err.Error(), shell.ErrShell.Error()+": ")
	if detail == "" {
		return shell.ErrShell.Error()
	}
	return detail
}
