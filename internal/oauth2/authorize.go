package oauth2

import (
	xoauth2 "golang.org/x/oauth2"
	"sendmail-oauth2/internal/common/errors"
)

// AuthorizeURL returns the provider URL the browser is sent to for sign-in.
// The code comes back to the redirect URL as a query parameter together with
// state.
func (m *Manager) AuthorizeURL(state string) (string, error) {
	if m.config.AuthURL == "" {
		return "", errors.ConfigError("auth_url is required to build the authorize URL")
	}
	if state == "" {
		return "", errors.ValidationError("state is required")
	}

	return m.oauthConfig().AuthCodeURL(state, xoauth2.SetAuthURLParam("response_mode", "query")), nil
}

// oauthConfig carries only what AuthCodeURL reads; ExchangeCode posts the
// token request itself
func (m *Manager) oauthConfig() *xoauth2.Config {
	return &xoauth2.Config{
		ClientID:    m.config.ClientID,
		RedirectURL: m.config.RedirectURL,
		Scopes:      m.config.Scopes,
		Endpoint:    xoauth2.Endpoint{AuthURL: m.config.AuthURL},
	}
}
