package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxTokenBodySize caps how much of a token response is read.
const maxTokenBodySize = 64 << 10 // 64KB

var (
	// ErrExchangeRejected is returned when the issuer answers with a non-2xx status.
	ErrExchangeRejected = errors.New("token exchange rejected")
	// ErrNoExpiry is returned when neither expires_in nor a JWT exp claim is present.
	ErrNoExpiry = errors.New("token carries no expiry")
)

// TokenEndpoint is an [Exchanger] performing the OAuth 2.0
// client_credentials grant against URL.
//
// The client authenticates with HTTP basic auth unless CredentialsInBody is
// set. When the response omits expires_in, the lifetime is read from the exp
// claim of a JWT access token; DefaultTTL is the last resort.
type TokenEndpoint struct {
	URL               string
	Scopes            []string
	Audience          string
	CredentialsInBody bool
	DefaultTTL        time.Duration
	Client            *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchange requests a token for creds.
func (te TokenEndpoint) Exchange(ctx context.Context, creds Credentials) (Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if len(te.Scopes) > 0 {
		form.Set("scope", strings.Join(te.Scopes, " "))
	}
	if te.Audience != "" {
		form.Set("audience", te.Audience)
	}
	if te.CredentialsInBody {
		form.Set("client_id", creds.ClientID)
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, te.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("instantiating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if !te.CredentialsInBody {
		req.SetBasicAuth(url.QueryEscape(creds.ClientID), url.QueryEscape(creds.ClientSecret))
	}

	hc := te.Client
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("exec token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return Token{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, fmt.Errorf("%w: %d, body: %s", ErrExchangeRejected, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decoding token response: %w", err)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if tr.ExpiresIn <= 0 {
		ttl, err = ttlFromJWT(tr.AccessToken, time.Now())
		if err != nil {
			if te.DefaultTTL <= 0 {
				return Token{}, err
			}
			ttl = te.DefaultTTL
		}
	}

	return Token{Value: tr.AccessToken, TTL: ttl}, nil
}

// ttlFromJWT reads the exp claim of raw without verifying its signature;
// the token is only inspected to schedule the next refresh.
func ttlFromJWT(raw string, now time.Time) (time.Duration, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoExpiry, err)
	}
	if claims.ExpiresAt == nil {
		return 0, ErrNoExpiry
	}

	return claims.ExpiresAt.Sub(now), nil
}
