package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellrelay/internal/logging"
)

const maxLogLines = 10000

// GetServerLogs returns the last ?lines= lines of the log file.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines, ok := queryInt(r.URL.Query(), "lines", 200, 1)
	if !ok {
		lines = 200
	}
	lines = min(lines, maxLogLines)

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
