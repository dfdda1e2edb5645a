package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors the API envelope so middleware rejections look like
// handler errors to clients.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: title, Message: message})
}
