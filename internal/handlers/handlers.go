// Package handlers serves the browser-facing routes: sign-in, the OAuth
// callback, a manual send and status.
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/oauth2"
	"sendmail-oauth2/internal/scheduler"
)

// TokenManager is the part of the token manager the routes use
type TokenManager interface {
	AuthorizeURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (oauth2.TokenState, error)
	Tokens() oauth2.TokenState
}

// MailScheduler is the part of the send scheduler the routes use
type MailScheduler interface {
	Start(ctx context.Context) error
	Send(ctx context.Context) error
	Status() scheduler.Status
}

type Handlers struct {
	tokens    TokenManager
	scheduler MailScheduler
	states    *StateStore
	logger    logging.Logger
}

func New(tokens TokenManager, sched MailScheduler, states *StateStore, logger logging.Logger) *Handlers {
	if states == nil {
		states = NewStateStore(DefaultStateTTL)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		tokens:    tokens,
		scheduler: sched,
		states:    states,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
}

// Register adds every route to router
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/login", h.Login).Methods(http.MethodGet)
	router.HandleFunc("/redirect", h.Redirect).Methods(http.MethodGet)
	router.HandleFunc("/send-mail", h.SendMail).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}
