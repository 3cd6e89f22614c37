// Package idp talks to the hosted identity provider and account-role store
// over HTTPS.
package idp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// maxBodySize caps how much of a provider response is read.
const maxBodySize = 1 << 20

// Client implements session.IdentityProvider against a GoTrue-style auth API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the provider at baseURL. apiKey is sent as
// the project key header on every request.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse identity provider url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("identity provider url must be http(s), got %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

type userResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
	Msg              string `json:"msg"`
}

func (e errorResponse) message() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignIn exchanges an email and password for a session.
func (c *Client) SignIn(ctx context.Context, creds session.Credentials) (*session.Session, error) {
	body := map[string]string{"email": creds.Email, "password": creds.Password}
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}}, "", body, &tr); err != nil {
		var ae *session.AuthError
		if errors.As(err, &ae) && (ae.Status == http.StatusBadRequest || ae.Status == http.StatusUnauthorized) {
			return nil, &session.AuthError{Kind: session.Unknown, Status: ae.Status,
				Err: fmt.Errorf("%w: %v", session.ErrInvalidCredentials, ae.Err)}
		}
		return nil, err
	}
	return c.sessionFromToken(tr)
}

// SignOut revokes the session behind rawToken.
func (c *Client) SignOut(ctx context.Context, rawToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, rawToken, nil, nil)
}

// GetSession validates rawToken and returns the session it represents.
func (c *Client) GetSession(ctx context.Context, rawToken string) (*session.Session, error) {
	var u userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, rawToken, nil, &u); err != nil {
		return nil, err
	}
	sess := sessionFromClaims(rawToken, c.now())
	if u.ID != "" {
		sess.SubjectID = u.ID
	}
	if sess.SubjectID == "" {
		return nil, &session.AuthError{Kind: session.Unknown, Err: errors.New("provider returned no subject")}
	}
	return sess, nil
}

// RefreshSession renews current with its refresh token. Without one it
// re-validates the access token instead.
func (c *Client) RefreshSession(ctx context.Context, current *session.Session) (*session.Session, error) {
	if current == nil {
		return nil, session.ErrNoSession
	}
	if current.RefreshToken == "" {
		if current.IsExpired(c.now()) {
			return nil, &session.AuthError{Kind: session.Expired, Err: errors.New("access token expired and no refresh token held")}
		}
		return c.GetSession(ctx, current.RawToken)
	}
	body := map[string]string{"refresh_token": current.RefreshToken}
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"refresh_token"}}, "", body, &tr); err != nil {
		return nil, err
	}
	return c.sessionFromToken(tr)
}

func (c *Client) sessionFromToken(tr tokenResponse) (*session.Session, error) {
	if tr.AccessToken == "" {
		return nil, &session.AuthError{Kind: session.Unknown, Err: errors.New("provider returned no access token")}
	}
	now := c.now()
	sess := sessionFromClaims(tr.AccessToken, now)
	sess.RefreshToken = tr.RefreshToken
	if tr.User.ID != "" {
		sess.SubjectID = tr.User.ID
	}
	switch {
	case tr.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0 && sess.ExpiresAt.IsZero():
		sess.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if sess.SubjectID == "" {
		return nil, &session.AuthError{Kind: session.Unknown, Err: errors.New("provider returned no subject")}
	}
	if sess.ExpiresAt.IsZero() {
		return nil, &session.AuthError{Kind: session.Unknown, Err: errors.New("provider returned no expiry")}
	}
	return sess, nil
}

// sessionFromClaims reads sub, iat and exp from a JWT access token. The
// token is not verified: it came straight from the provider over TLS and is
// only used to fill in fields the response omitted.
func sessionFromClaims(rawToken string, now time.Time) *session.Session {
	sess := &session.Session{RawToken: rawToken, IssuedAt: now}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, &claims); err != nil {
		return sess
	}
	sess.SubjectID = claims.Subject
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return sess
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Failures come back as *session.AuthError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &session.AuthError{Kind: session.NetworkFailure, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &session.AuthError{Kind: session.NetworkFailure, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		authErr := classifyResponse(resp.StatusCode, data)
		c.logger.Debug("identity provider error",
			"method", method, "path", path,
			"status", resp.StatusCode, "kind", authErr.Kind.String())
		return authErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &session.AuthError{Kind: session.Unknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyResponse maps a provider error response onto an AuthError kind.
func classifyResponse(status int, body []byte) *session.AuthError {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := strings.ToLower(er.ErrorCode + " " + er.Error + " " + msg)

	kind := session.Unknown
	switch {
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		kind = session.NetworkFailure
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if strings.Contains(code, "expired") {
			kind = session.Expired
		} else {
			kind = session.Revoked
		}
	case strings.Contains(code, "invalid_grant"),
		strings.Contains(code, "invalid refresh token"),
		strings.Contains(code, "refresh_token_not_found"),
		strings.Contains(code, "refresh_token_already_used"),
		strings.Contains(code, "session_not_found"):
		kind = session.Revoked
	case strings.Contains(code, "expired"):
		kind = session.Expired
	}
	return &session.AuthError{Kind: kind, Status: status, Err: errors.New(msg)}
}

// Compile-time interface verification.
var _ session.IdentityProvider = (*Client)(nil)
