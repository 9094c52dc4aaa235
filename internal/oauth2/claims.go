package oauth2

import (
	"github.com/golang-jwt/jwt/v5"
)

// accountClaims are checked in order for a human readable account name
var accountClaims = []string{"preferred_username", "upn", "unique_name", "email", "sub"}

// AccountName returns the signed-in account named in an access token, or ""
// when the token is not a JWT. The signature is not verified, so the result
// is for display and logging only.
func AccountName(accessToken string) string {
	if accessToken == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}

	for _, key := range accountClaims {
		if value, ok := claims[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
