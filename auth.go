package tradelocker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/rest"
	"tradelocker/pkg/telemetry"
)

// refreshWindow is how close to expiry the access token may get before it is
// refreshed proactively.
const refreshWindow = 30 * time.Minute

// session holds the token state. It is guarded by the client's session mutex
// so one client instance can be shared across goroutines.
type session struct {
	accessToken   string
	refreshToken  string
	accessExpiry  time.Time
	refreshExpiry time.Time
}

func (s *session) adopt(accessToken, refreshToken string) {
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	// Expiry claims are read without verifying the signature; the broker
	// verifies server-side and the transport is TLS.
	s.accessExpiry, _ = tokenExpiry(accessToken)
	s.refreshExpiry, _ = tokenExpiry(refreshToken)
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// tokenExpiry decodes the exp claim of a JWT without verifying it.
func tokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token payload: %w", err)
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token claims: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	sec := int64(claims.Exp)
	nsec := int64((claims.Exp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), nil
}

// login exchanges the configured credentials for a fresh token pair.
func (c *Client) login(ctx context.Context) error {
	creds := c.cfg.Credentials
	if creds.Password == "" {
		return &apperrors.AuthError{Op: "login", Err: fmt.Errorf("no credentials available for re-login")}
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "/auth/jwt/token",
		Body: map[string]string{
			"email":    creds.Email,
			"password": creds.Password.Reveal(),
			"server":   creds.Server,
		},
		SkipAuth: true,
	})
	if err != nil {
		return &apperrors.AuthError{Op: "login", Err: err}
	}

	var pair tokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return &apperrors.AuthError{Op: "login", Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return &apperrors.AuthError{Op: "login", Err: fmt.Errorf("token response missing tokens")}
	}

	c.session.adopt(pair.AccessToken, pair.RefreshToken)
	c.log.Info("authenticated with broker", "server", creds.Server)
	telemetry.GetGlobalMetrics().RecordTokenRefresh("login")
	return nil
}

// refreshTokens exchanges the refresh token for a new token pair.
func (c *Client) refreshTokens(ctx context.Context) error {
	body, err := c.rest.Do(ctx, rest.Request{
		Method:   http.MethodPost,
		Path:     "/auth/jwt/refresh",
		Body:     map[string]string{"refreshToken": c.session.refreshToken},
		SkipAuth: true,
	})
	if err != nil {
		return &apperrors.AuthError{Op: "refresh", Err: err}
	}

	var pair tokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return &apperrors.AuthError{Op: "refresh", Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return &apperrors.AuthError{Op: "refresh", Err: fmt.Errorf("token response missing tokens")}
	}

	c.session.adopt(pair.AccessToken, pair.RefreshToken)
	c.log.Debug("refreshed access token", "expires", c.session.accessExpiry)
	telemetry.GetGlobalMetrics().RecordTokenRefresh("refresh")
	return nil
}

// ensureToken returns an access token valid for at least the refresh window,
// refreshing or re-logging-in as needed. Concurrent callers collapse onto one
// refresh via singleflight.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.sessionMu.Lock()
	now := time.Now()
	token := c.session.accessToken
	accessOK := token != "" && now.Before(c.session.accessExpiry.Add(-refreshWindow))
	c.sessionMu.Unlock()

	if accessOK {
		return token, nil
	}

	_, err, _ := c.refreshGroup.Do("token", func() (any, error) {
		c.sessionMu.Lock()
		defer c.sessionMu.Unlock()

		now := time.Now()
		if c.session.accessToken != "" && now.Before(c.session.accessExpiry.Add(-refreshWindow)) {
			return nil, nil
		}

		// A live refresh token gets a refresh; otherwise fall back to a
		// full re-login with the stored credentials.
		if c.session.refreshToken != "" && now.Before(c.session.refreshExpiry) {
			if err := c.refreshTokens(ctx); err == nil {
				return nil, nil
			} else if c.cfg.Credentials.Password == "" {
				return nil, err
			}
			// Refresh failed but credentials exist, fall through to login.
		}
		return nil, c.login(ctx)
	})
	if err != nil {
		return "", err
	}

	c.sessionMu.Lock()
	token = c.session.accessToken
	c.sessionMu.Unlock()
	return token, nil
}

// AccessToken returns a currently valid access token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.ensureToken(ctx)
}

// RefreshToken returns the current refresh token, re-logging-in first when it
// has expired.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	c.sessionMu.Lock()
	valid := c.session.refreshToken != "" && time.Now().Before(c.session.refreshExpiry)
	token := c.session.refreshToken
	c.sessionMu.Unlock()

	if valid {
		return token, nil
	}

	// login mutates the session, so it runs under the session mutex like
	// every other refresh path.
	_, err, _ := c.refreshGroup.Do("relogin", func() (any, error) {
		c.sessionMu.Lock()
		defer c.sessionMu.Unlock()

		if c.session.refreshToken != "" && time.Now().Before(c.session.refreshExpiry) {
			return nil, nil
		}
		return nil, c.login(ctx)
	})
	if err != nil {
		return "", err
	}

	c.sessionMu.Lock()
	token = c.session.refreshToken
	c.sessionMu.Unlock()
	return token, nil
}

// Authorize implements rest.Authorizer.
func (c *Client) Authorize(ctx context.Context, req *http.Request, includeAccNum bool) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if includeAccNum {
		req.Header.Set("accNum", strconv.FormatInt(c.accNum, 10))
	}
	if key := c.cfg.Credentials.DeveloperAPIKey; key != "" {
		req.Header.Set("developer-api-key", key.Reveal())
	}
	return nil
}

// Renew implements rest.Authorizer. It is called by the dispatcher after a
// 401 and forces a token refresh regardless of the local expiry estimate.
func (c *Client) Renew(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("renew", func() (any, error) {
		c.sessionMu.Lock()
		defer c.sessionMu.Unlock()

		if c.session.refreshToken != "" && time.Now().Before(c.session.refreshExpiry) {
			if err := c.refreshTokens(ctx); err == nil {
				return nil, nil
			} else if c.cfg.Credentials.Password == "" {
				return nil, err
			}
		}
		return nil, c.login(ctx)
	})
	return err
}
