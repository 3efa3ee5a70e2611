package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	retrygo "github.com/avast/retry-go/v5"

	apierrors "volaiops/internal/errors"
)

// LoginRequest is the body POSTed to /login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the /login reply
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Profile is the /me reply. Unknown fields are kept in Raw.
type Profile struct {
	ID    any            `json:"id"`
	Email string         `json:"email"`
	Raw   map[string]any `json:"-"`
}

// Login exchanges credentials for an access token, retrying transient
// failures. A rejected login is not retried. On success the token is also
// installed on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	endpoint := c.endpoint("/login")
	attempts := 0

	var token TokenResponse
	r := retrygo.New(
		retrygo.Context(ctx),
		retrygo.Attempts(uint(c.loginTry)),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
	)

	err := r.Do(func() error {
		attempts++
		token = TokenResponse{}
		err := c.doJSON(ctx, c.newHTTP(30*time.Second), http.MethodPost, endpoint,
			LoginRequest{Email: email, Password: password}, nil, &token)
		if rejectedLogin(err) {
			return retrygo.Unrecoverable(err)
		}
		if err == nil && token.AccessToken == "" {
			return fmt.Errorf("response has no access_token")
		}
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "login_failed",
			slog.String("url", endpoint),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return "", apierrors.AuthFailed(endpoint, attempts, err)
	}

	c.token = token.AccessToken
	c.logger.InfoContext(ctx, "login_succeeded", slog.Int("attempts", attempts))
	return token.AccessToken, nil
}

// rejectedLogin reports whether the server refused the credentials
func rejectedLogin(err error) bool {
	var status *StatusError
	return errors.As(err, &status) &&
		(status.Status == http.StatusUnauthorized || status.Status == http.StatusForbidden)
}

// Me returns the profile of the token's user
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	if c.token == "" {
		return nil, apierrors.AuthFailed(c.endpoint("/me"), 0, fmt.Errorf("no access token"))
	}
	var raw map[string]any
	if err := c.doJSON(ctx, c.newHTTP(30*time.Second), http.MethodGet, c.endpoint("/me"), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	p := &Profile{ID: raw["id"], Raw: raw}
	if email, ok := raw["email"].(string); ok {
		p.Email = email
	}
	return p, nil
}
