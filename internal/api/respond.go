// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	"cantina/internal/faults"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError renders a business error with its stable code so clients can
// branch without string matching.
func WriteError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if code := faults.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	WriteJSON(w, faults.HTTPStatus(err), body)
}
