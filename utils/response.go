package utils

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope every handler writes. Data is omitted on
// failures so error payloads stay small.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON sets the content type, writes the status and encodes resp. Encode
// errors are dropped: the status line is already on the wire, so there is
// nothing useful left to tell the client.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
