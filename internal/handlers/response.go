package handlers

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"sendmail-oauth2/internal/common/logging"
)

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", err)
	}
}

func (h *Handlers) sendText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := fmt.Fprint(w, text); err != nil {
		h.logger.Debug("Failed to write response", logging.Field{Key: "error", Value: err.Error()})
	}
}

// sendHTML wraps body in a minimal page. body is written as is.
func (h *Handlers) sendHTML(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>%s</title></head><body>%s</body></html>\n",
		html.EscapeString(title), body)
	if _, err := fmt.Fprint(w, page); err != nil {
		h.logger.Debug("Failed to write response", logging.Field{Key: "error", Value: err.Error()})
	}
}
