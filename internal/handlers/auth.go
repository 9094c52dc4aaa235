package handlers

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/oauth2"
)

// Login sends the browser to the provider's sign-in page
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := h.states.Issue()

	authURL, err := h.tokens.AuthorizeURL(state)
	if err != nil {
		h.logger.Error("Failed to build authorize URL", err)
		h.sendText(w, http.StatusInternalServerError, "Unable to start sign-in.")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Redirect handles the provider callback. A valid code is exchanged for
// tokens and the send schedule is started.
func (h *Handlers) Redirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logger := h.logger.WithContext(r.Context())

	if providerErr := query.Get("error"); providerErr != "" {
		description := query.Get("error_description")
		logger.Warn("Sign-in rejected by provider",
			logging.Field{Key: "error", Value: providerErr},
			logging.Field{Key: "error_description", Value: description},
		)
		msg := "Authentication failed: " + providerErr
		if description != "" {
			msg += " - " + description
		}
		h.sendText(w, http.StatusBadRequest, msg)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.sendText(w, http.StatusBadRequest, "No authorization code received.")
		return
	}

	if !h.states.Consume(query.Get("state")) {
		logger.Warn("Callback with unknown or expired state")
		h.sendText(w, http.StatusBadRequest, "Invalid or expired sign-in request. Start again at /login.")
		return
	}

	state, err := h.tokens.ExchangeCode(r.Context(), code)
	if err != nil {
		logger.Error("Error obtaining access token", err)
		h.sendText(w, http.StatusInternalServerError, "Error obtaining access token.")
		return
	}

	account := oauth2.AccountName(state.AccessToken)
	logger.Info("User signed in", logging.Field{Key: "account", Value: account})

	// the schedule outlives this request
	scheduled := "Scheduled sending has started."
	if err := h.scheduler.Start(context.WithoutCancel(r.Context())); err != nil {
		logger.Error("Failed to start send schedule", err)
		scheduled = "Scheduled sending could not be started."
	}

	body := "<h1>Authentication successful!</h1>"
	if account != "" {
		body += fmt.Sprintf("<p>Signed in as %s.</p>", html.EscapeString(account))
	}
	body += "<p>" + scheduled + ` <a href="/send-mail">Send a test email now</a>.</p>`
	h.sendHTML(w, http.StatusOK, "Authentication successful", body)
}
