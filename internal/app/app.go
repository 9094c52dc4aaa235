package app

import (
	"context"

	"sendmail-oauth2/internal/common/errors"
	commonhttp "sendmail-oauth2/internal/common/http"
	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/config"
	"sendmail-oauth2/internal/graph"
	"sendmail-oauth2/internal/handlers"
	"sendmail-oauth2/internal/oauth2"
	"sendmail-oauth2/internal/scheduler"
)

// App holds all the application dependencies
type App struct {
	Config    *config.Config
	Tokens    *oauth2.Manager
	Mail      *graph.Client
	Scheduler *scheduler.Scheduler
	States    *handlers.StateStore
	Logger    logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	app := &App{
		Config: cfg,
		Logger: logger.WithFields(logging.Field{Key: "component", Value: "app"}),
		States: handlers.NewStateStore(handlers.DefaultStateTTL),
	}

	// one token host and one Graph host
	httpClient := commonhttp.NewHTTPClient(
		commonhttp.WithTimeout(cfg.HTTPTimeout),
		commonhttp.WithMaxIdleConnsPerHost(2),
	)

	tokens, err := oauth2.NewManager(oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		AuthURL:      cfg.AuthURL(),
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.ScopeList(),
	}, oauth2.WithHTTPClient(httpClient), oauth2.WithLogger(logger))
	if err != nil {
		return nil, errors.ConfigError("failed to create token manager: " + err.Error())
	}
	app.Tokens = tokens

	app.Mail = graph.NewClient(cfg.GraphBaseURL, graph.WithHTTPClient(httpClient), graph.WithLogger(logger))

	policy := scheduler.DefaultPolicy()
	policy.MaxAttempts = cfg.SendMaxAttempts
	policy.InitialDelay = cfg.SendRetryDelay
	policy.BreakerEnabled = cfg.SendBreakerEnabled

	sched, err := scheduler.New(tokens, app.Mail, scheduler.Config{
		Recipient: cfg.MailRecipient,
		Interval:  cfg.SendInterval,
		Policy:    policy,
	}, logger)
	if err != nil {
		return nil, errors.ConfigError("failed to create scheduler: " + err.Error())
	}
	app.Scheduler = sched

	app.Logger.Info("Application initialized",
		logging.Field{Key: "tenant", Value: cfg.TenantID},
		logging.Field{Key: "redirect_uri", Value: cfg.RedirectURI},
		logging.Field{Key: "recipient", Value: cfg.MailRecipient},
		logging.Field{Key: "interval", Value: cfg.SendInterval.String()},
		logging.Field{Key: "max_attempts", Value: cfg.SendMaxAttempts},
		logging.Field{Key: "breaker", Value: cfg.SendBreakerEnabled},
	)

	return app, nil
}

// Shutdown stops the send schedule
func (app *App) Shutdown(ctx context.Context) error {
	app.Scheduler.Stop(ctx)
	return nil
}
