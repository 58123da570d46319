package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellrelay/internal/database"
	"github.com/gluk-w/claworc/shellrelay/internal/relay"
)

// Relay is set from main.go during init.
var Relay *relay.Server

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	connections, sessions := 0, 0
	if Relay != nil {
		connections = Relay.ConnectionCount()
		sessions = Relay.SessionCount()
	}

	dbStatus := database.Ping()
	status := "healthy"
	if dbStatus == "disconnected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"connections": connections,
		"sessions":    sessions,
		"database":    dbStatus,
	})
}
