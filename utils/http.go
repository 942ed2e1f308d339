// utils/http.go - JSON envelopes for the net/http side (WebSocket server)
package utils

import (
	"encoding/json"
	"net/http"
)

// JSONSuccess writes a success envelope, merging data into the top level so
// the shape matches the Fiber side's responses.
func JSONSuccess(w http.ResponseWriter, data map[string]any) error {
	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}
	body["success"] = true
	return writeJSON(w, http.StatusOK, body)
}

// JSONError writes the error envelope with the given status.
func JSONError(w http.ResponseWriter, status int, message string) error {
	return writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}
