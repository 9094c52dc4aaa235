package handlers

import (
	"net/http"

	"sendmail-oauth2/internal/common/errors"
)

// SendMail sends the test message once, outside the schedule
func (h *Handlers) SendMail(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Send(r.Context()); err != nil {
		h.logger.WithContext(r.Context()).Error("Error sending email", err)
		if errors.IsType(err, errors.ErrTypeAuth) {
			h.sendText(w, http.StatusUnauthorized, "Error sending email. Sign in at /login first.")
			return
		}
		h.sendText(w, http.StatusBadGateway, "Error sending email.")
		return
	}

	h.sendText(w, http.StatusOK, "Email sent successfully!")
}
