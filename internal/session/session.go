package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when an operation requires a signed-in user and
// none is present.
var ErrNoSession = errors.New("no session found")

// Session is a resolved identity for the current user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the session.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session carried by ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// Source resolves the session for an operation.
type Source interface {
	Current(ctx context.Context) (*Session, error)
}

// ContextSource resolves sessions from the request context. It is the default
// Source used by the upload pipeline; tests substitute their own.
type ContextSource struct{}

func (ContextSource) Current(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Client talks to the external auth provider over HTTP.
type Client struct {
	baseURL string
	anonKey string
	secret  []byte
	http    *http.Client
}

// NewClient creates an auth provider client. anonKey is sent as the apikey
// header on every request. jwtSecret, when non-empty, enables HMAC
// verification of access tokens in ParseToken.
func NewClient(baseURL, anonKey, jwtSecret string) *Client {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignIn exchanges email/password credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return c.authRequest(ctx, "/token?grant_type=password", email, password)
}

// SignUp registers a new user and returns its initial session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return c.authRequest(ctx, "/signup", email, password)
}

// SignOut revokes the given access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("building logout request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("signing out: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authRequest(ctx context.Context, path, email, password string) (*Session, error) {
	body, err := json.Marshal(credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("marshaling credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling auth provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("auth provider returned status %d", resp.StatusCode)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decoding auth response: %w", err)
	}
	if ar.AccessToken == "" || ar.User.ID == "" {
		return nil, errors.New("auth response missing access token or user id")
	}

	return &Session{
		AccessToken:  ar.AccessToken,
		RefreshToken: ar.RefreshToken,
		UserID:       ar.User.ID,
		Email:        ar.User.Email,
		ExpiresAt:    time.Now().Add(time.Duration(ar.ExpiresIn) * time.Second),
	}, nil
}

// ParseToken resolves a session from a bearer access token. Tokens are
// verified with the configured HMAC secret when one is set; otherwise only
// the claims are read. Expired tokens are rejected either way.
func (c *Client) ParseToken(token string) (*Session, error) {
	claims := jwt.MapClaims{}

	if c.secret != nil {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if _, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		}); err != nil {
			return nil, fmt.Errorf("verifying token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("parsing token: %w", err)
		}
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("token has no subject claim")
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
		if expiresAt.Before(time.Now()) {
			return nil, errors.New("token is expired")
		}
	}

	email, _ := claims["email"].(string)

	return &Session{
		AccessToken: token,
		UserID:      sub,
		Email:       email,
		ExpiresAt:   expiresAt,
	}, nil
}
