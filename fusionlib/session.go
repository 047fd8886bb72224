package fusionlib

import (
	"context"

	"go.uber.org/zap"
)

// Session is an authenticated OpenAPI session.
//
// The zero value is not logged in.
type Session struct {
	// Token is the opaque value the server set in the XSRF-TOKEN cookie.
	Token string
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool {
	return s.Token != ""
}

// Login authenticates the OpenAPI account.
//
// The credentials are sent as they are: an empty or wrong user name is
// reported by the server as ErrAuthenticationRejected.
func (c *Client) Login(ctx context.Context, user, password string) (Session, error) {
	payload := struct {
		UserName   string `json:"userName"`
		SystemCode string `json:"systemCode"`
	}{user, password}

	req, err := c.newRequest(ctx, loginPath, payload)
	if err != nil {
		return Session{}, err
	}

	e, cookies, err := c.do(req)
	if err != nil {
		return Session{}, err
	}
	if !*e.Success {
		c.logger.Info("login rejected", zap.Int("fail_code", e.FailCode), zap.String("message", e.Message))
		return Session{}, e.rejected(ErrAuthenticationRejected)
	}

	// The last token wins if a redirect set one too.
	var token string
	for _, ck := range cookies {
		if ck.Name == tokenName && ck.Value != "" {
			token = ck.Value
		}
	}
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}
	c.logger.Debug("session token acquired")
	return Session{Token: token}, nil
}

// Logout invalidates the session on the server.
func (c *Client) Logout(ctx context.Context, s Session) error {
	payload := struct {
		XSRFToken string `json:"xsrfToken"`
	}{s.Token}

	req, err := c.newAuthRequest(ctx, s, logoutPath, payload)
	if err != nil {
		return err
	}

	e, _, err := c.do(req)
	if err != nil {
		return err
	}
	if !*e.Success {
		return e.rejected(ErrAuthenticationRejected)
	}
	return nil
}
