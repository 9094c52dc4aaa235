package handlers

import (
	"net/http"

	"sendmail-oauth2/internal/oauth2"
	"sendmail-oauth2/internal/scheduler"
)

// StatusResponse reports sign-in and schedule state. Token values are never
// included.
type StatusResponse struct {
	Authenticated   bool             `json:"authenticated"`
	HasAccessToken  bool             `json:"has_access_token"`
	HasRefreshToken bool             `json:"has_refresh_token"`
	Account         string           `json:"account,omitempty"`
	PendingLogins   int              `json:"pending_logins"`
	Scheduler       scheduler.Status `json:"scheduler"`
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	tokens := h.tokens.Tokens()
	h.sendJSONResponse(w, StatusResponse{
		Authenticated:   tokens.HasAccessToken() || tokens.HasRefreshToken(),
		HasAccessToken:  tokens.HasAccessToken(),
		HasRefreshToken: tokens.HasRefreshToken(),
		Account:         oauth2.AccountName(tokens.AccessToken),
		PendingLogins:   h.states.Pending(),
		Scheduler:       h.scheduler.Status(),
	})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, map[string]string{"status": "ok"})
}
