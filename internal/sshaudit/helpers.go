package sshaudit

import (
	"net/http"
	"strings"
)

// LogClientConnected logs a browser opening the relay WebSocket.
func LogClientConnected(connID, sourceIP string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType:    EventClientConnected,
			ConnectionID: connID,
			SourceIP:     sourceIP,
		})
	}
}

// LogClientDisconnected logs the relay WebSocket ending.
func LogClientDisconnected(connID, sourceIP, reason string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType:    EventClientDisconnected,
			ConnectionID: connID,
			SourceIP:     sourceIP,
			Details:      reason,
			DurationMs:   durationMs,
		})
	}
}

// LogSessionStarted logs a remote shell opening.
func LogSessionStarted(connID, sessionID, host string, port int, username string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType:    EventSessionStarted,
			ConnectionID: connID,
			SessionID:    sessionID,
			Host:         host,
			Port:         port,
			Username:     username,
		})
	}
}

// LogSessionEnded logs a remote shell closing, with its lifetime.
func LogSessionEnded(connID, sessionID, host string, port int, username, reason string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType:    EventSessionEnded,
			ConnectionID: connID,
			SessionID:    sessionID,
			Host:         host,
			Port:         port,
			Username:     username,
			Details:      reason,
			DurationMs:   durationMs,
		})
	}
}

// LogConnectionFailed logs a session that never reached its shell, or lost
// it to an error. kind is the translated error class.
func LogConnectionFailed(connID, sessionID, host string, port int, username, kind string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			EventType:    EventConnectionFailed,
			ConnectionID: connID,
			SessionID:    sessionID,
			Host:         host,
			Port:         port,
			Username:     username,
			Details:      "kind=" + kind,
		})
	}
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
