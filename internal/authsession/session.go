// Package authsession owns the subscriber's credential lifecycle: interactive
// authorization-code login with PKCE, silent refresh, and logout. Tokens live
// exclusively in the backing authstore; the session never caches one beyond a
// single operation.
package authsession

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clearline/dialer/internal/authstore"
)

// AuthError reports a failed or cancelled interactive login. It is the only
// authentication failure surfaced to the UI; refresh failures collapse into
// logout instead.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("login failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authorizer performs the interactive hop of the authorization-code flow:
// present authorizeURL to the subscriber and return the code delivered to the
// redirect URL. Implementations decide how (system browser, embedded view,
// test stub).
type Authorizer interface {
	Authorize(ctx context.Context, authorizeURL string) (code string, err error)
}

// Session drives the token lifecycle against one identity provider.
type Session struct {
	cfg    *Config
	store  authstore.Store
	auth   Authorizer
	http   *http.Client
	logger *logrus.Entry

	now func() time.Time
}

func New(cfg *Config, store authstore.Store, auth Authorizer, logger *logrus.Logger) *Session {
	return &Session{
		cfg:    cfg,
		store:  store,
		auth:   auth,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.WithField("component", "authsession"),
		now:    time.Now,
	}
}

// Login runs the interactive authorization-code exchange and persists the
// resulting token triple. The triple is written in a single store operation so
// a partial save is never observable.
func (s *Session) Login(ctx context.Context) error {
	verifier, challenge, err := generatePKCE()
	if err != nil {
		return &AuthError{Reason: "generating PKCE challenge", Err: err}
	}

	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {s.cfg.ClientID},
		"redirect_uri":          {s.cfg.RedirectURL},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	if len(s.cfg.Scopes) > 0 {
		query.Set("scope", strings.Join(s.cfg.Scopes, " "))
	}
	authorizeURL := s.cfg.AuthorizeEndpoint + "?" + query.Encode()

	code, err := s.auth.Authorize(ctx, authorizeURL)
	if err != nil {
		return &AuthError{Reason: "authorization rejected or cancelled", Err: err}
	}

	tok, err := s.exchange(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {s.cfg.ClientID},
		"redirect_uri":  {s.cfg.RedirectURL},
		"code_verifier": {verifier},
	})
	if err != nil {
		return &AuthError{Reason: "code exchange failed", Err: err}
	}

	if err := s.store.Save(ctx, tok); err != nil {
		return &AuthError{Reason: "persisting token", Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"has_refresh": tok.RefreshToken != "",
		"has_expiry":  !tok.ExpiresAt.IsZero(),
	}).Info("login complete")
	return nil
}

// ValidToken returns a usable access token, refreshing if necessary.
// The second return is false when the subscriber is unauthenticated, which
// is a normal answer, not an error. An expired token that cannot be refreshed
// clears storage entirely: expired-and-unrefreshable is a logout, never a
// retryable error.
func (s *Session) ValidToken(ctx context.Context) (string, bool, error) {
	tok, ok, err := s.store.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("loading token: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	if !tok.Expired(s.now()) {
		return tok.AccessToken, true, nil
	}

	if !tok.Refreshable() {
		s.logger.Info("token expired with no refresh token, logging out")
		if err := s.store.Clear(ctx); err != nil {
			return "", false, fmt.Errorf("clearing expired token: %w", err)
		}
		return "", false, nil
	}

	s.logger.Debug("token expired, attempting silent refresh")
	fresh, err := s.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tok.RefreshToken},
		"client_id":     {s.cfg.ClientID},
	})
	if err != nil {
		s.logger.WithError(err).Warn("token refresh failed, logging out")
		if clearErr := s.store.Clear(ctx); clearErr != nil {
			return "", false, fmt.Errorf("clearing token after failed refresh: %w", clearErr)
		}
		return "", false, nil
	}

	// Providers may rotate or omit the refresh token; keep the old one when
	// the response has none so the next refresh still works.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	if err := s.store.Save(ctx, fresh); err != nil {
		return "", false, fmt.Errorf("persisting refreshed token: %w", err)
	}

	s.logger.Info("token refreshed")
	return fresh.AccessToken, true, nil
}

// Logout unconditionally clears the stored triple. Clearing when nothing is
// stored succeeds.
func (s *Session) Logout(ctx context.Context) error {
	s.logger.Info("logging out, clearing stored token")
	return s.store.Clear(ctx)
}

// tokenResponse is the provider's token-endpoint payload. The provider reports
// expiry as an ISO-8601 date; some deployments send the standard expires_in
// seconds instead.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpirationDate   string `json:"accessTokenExpirationDate"`
	ExpiresInSeconds int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *Session) exchange(ctx context.Context, form url.Values) (authstore.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return authstore.Token{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return authstore.Token{}, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return authstore.Token{}, fmt.Errorf("reading token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return authstore.Token{}, fmt.Errorf("decoding token response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if tr.Error != "" {
			return authstore.Token{}, fmt.Errorf("token endpoint: %s (%s)", tr.Error, tr.ErrorDescription)
		}
		return authstore.Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	if tr.AccessToken == "" {
		return authstore.Token{}, fmt.Errorf("token endpoint returned no access token")
	}

	tok := authstore.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpirationDate != "" {
		exp, err := time.Parse(time.RFC3339, tr.ExpirationDate)
		if err != nil {
			return authstore.Token{}, fmt.Errorf("parsing token expiration date %q: %w", tr.ExpirationDate, err)
		}
		tok.ExpiresAt = exp
	} else if tr.ExpiresInSeconds > 0 {
		tok.ExpiresAt = s.now().Add(time.Duration(tr.ExpiresInSeconds) * time.Second)
	}

	return tok, nil
}
