package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellrelay/internal/sshaudit"
)

// GetAuditLogs handles GET /api/v1/audit.
// Query parameters (all optional):
//   - event_type, host, username, session_id, connection_id: exact filters
//   - since, until: RFC 3339 timestamps
//   - limit: entries per page (default 50, max 1000)
//   - offset: pagination offset
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not enabled")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		EventType:    q.Get("event_type"),
		Host:         q.Get("host"),
		Username:     q.Get("username"),
		SessionID:    q.Get("session_id"),
		ConnectionID: q.Get("connection_id"),
	}

	var ok bool
	if opts.Since, ok = queryTime(q, "since"); !ok {
		writeError(w, http.StatusBadRequest, "Invalid since")
		return
	}
	if opts.Until, ok = queryTime(q, "until"); !ok {
		writeError(w, http.StatusBadRequest, "Invalid until")
		return
	}
	if opts.Limit, ok = queryInt(q, "limit", 0, 1); !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if opts.Offset, ok = queryInt(q, "offset", 0, 0); !ok {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	result, err := auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
