package handlers

import (
	"net/http"
	"strconv"
)

// actorFrom returns the identity recorded in change log entries. The engine
// sits behind the platform gateway, which authenticates callers and forwards
// the identity in this header.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "admin"
}

// parseLimit reads the optional ?limit= query parameter. Zero means "use the
// service default".
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
