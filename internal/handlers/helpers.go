package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handlers] encode response: %v", err)
	}
}

// writeError sends {"detail": ...}, the shape every API error uses.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// queryInt parses an optional integer parameter. ok is false when the value
// is present but not an integer >= floor.
func queryInt(q url.Values, name string, def, floor int) (n int, ok bool) {
	v := q.Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		return 0, false
	}
	return n, true
}

// queryTime parses an optional RFC 3339 parameter. A missing value yields nil.
func queryTime(q url.Values, name string) (*time.Time, bool) {
	v := q.Get(name)
	if v == "" {
		return nil, true
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, false
	}
	return &ts, true
}
