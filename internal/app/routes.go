package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"sendmail-oauth2/internal/handlers"
	"sendmail-oauth2/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	router.Use(middleware.LoggingMiddleware)
	h.Register(router)
	router.Handle("/", http.RedirectHandler("/login", http.StatusFound)).Methods(http.MethodGet)
}

// Router builds the application's HTTP handler
func (app *App) Router() http.Handler {
	h := handlers.New(app.Tokens, app.Scheduler, app.States, app.Logger)
	router := mux.NewRouter()
	SetupRoutes(router, h)
	return router
}
