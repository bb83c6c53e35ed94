package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adamwoolhether/apiclient/client/bypass"
	"github.com/adamwoolhether/apiclient/client/metrics"
)

// refreshKey is the single singleflight key; one provider owns one token.
const refreshKey = "token"

var (
	// ErrNoExchanger is returned when [NewClientCredentials] gets a nil [Exchanger].
	ErrNoExchanger = errors.New("exchanger must not be nil")
	// ErrEmptyToken is returned when an issuer answers without a token.
	ErrEmptyToken = errors.New("issuer returned an empty token")
)

// Credentials identify the client to the credential issuer.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Token is a credential together with its lifetime.
type Token struct {
	Value string
	TTL   time.Duration
}

// Exchanger trades client credentials for a [Token].
type Exchanger interface {
	Exchange(ctx context.Context, creds Credentials) (Token, error)
}

// ExchangeFunc adapts an ordinary function to an [Exchanger].
type ExchangeFunc func(ctx context.Context, creds Credentials) (Token, error)

// Exchange calls f(ctx, creds).
func (f ExchangeFunc) Exchange(ctx context.Context, creds Credentials) (Token, error) {
	return f(ctx, creds)
}

// ClientCredentials is a [Provider] that obtains bearer tokens through an
// [Exchanger] and caches them until shortly before they expire.
//
// At most one exchange runs at a time: concurrent callers that need a token
// while a refresh is in flight wait for that refresh and share its result,
// including its error. A failed refresh is not cached, so the next caller
// starts a fresh exchange.
type ClientCredentials struct {
	creds        Credentials
	exchanger    Exchanger
	leadTime     time.Duration
	rules        []bypass.Rule
	afterRefresh RefreshHook
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials builds a [ClientCredentials] provider.
func NewClientCredentials(creds Credentials, ex Exchanger, optFns ...Option) (*ClientCredentials, error) {
	if ex == nil {
		return nil, ErrNoExchanger
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying credentials option: %w", err)
		}
	}

	p := &ClientCredentials{
		creds:        creds,
		exchanger:    ex,
		leadTime:     DefaultLeadTime,
		rules:        opts.rules,
		afterRefresh: opts.afterRefresh,
		now:          time.Now,
		logger:       slog.Default(),
		metrics:      opts.metrics,
	}

	if opts.leadTime != nil {
		p.leadTime = *opts.leadTime
	}
	if opts.now != nil {
		p.now = opts.now
	}
	if opts.logger != nil {
		p.logger = opts.logger
	}
	p.logger = p.logger.With("component", "client_credentials")

	return p, nil
}

// BypassRules returns the rules declared through [WithBypassRules].
func (p *ClientCredentials) BypassRules() []bypass.Rule {
	return slices.Clone(p.rules)
}

// Authorize sets a valid bearer token on a copy of r.
func (p *ClientCredentials) Authorize(ctx context.Context, r *http.Request) (*http.Request, error) {
	token, err := p.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	return withBearer(ctx, r, token), nil
}

// ValidToken returns a token that is not within the lead time of its expiry,
// refreshing it if needed.
//
// Cancelling ctx abandons only this caller's wait. The refresh itself runs
// detached from ctx's cancellation so other waiters still receive its result.
func (p *ClientCredentials) ValidToken(ctx context.Context) (string, error) {
	ch := p.group.DoChan(refreshKey, func() (any, error) {
		return p.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("awaiting token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// State returns the cached token and its expiry. The token is empty before
// the first successful refresh.
func (p *ClientCredentials) State() (string, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.token, p.expiresAt
}

// refresh exchanges credentials when no token is cached or the cached one
// expires within the lead time, and returns the current token.
func (p *ClientCredentials) refresh(ctx context.Context) (string, error) {
	token, expiresAt := p.State()
	if token != "" && !p.now().Add(p.leadTime).After(expiresAt) {
		return token, nil
	}

	tok, err := p.exchanger.Exchange(ctx, p.creds)
	if err == nil && tok.Value == "" {
		err = ErrEmptyToken
	}
	p.metrics.ObserveRefresh(err)
	if err != nil {
		p.logger.Error("token refresh failed", "client_id", p.creds.ClientID, "error", err)
		return "", fmt.Errorf("obtaining token: %w", err)
	}

	expiresAt = p.now().Add(tok.TTL)

	p.mu.Lock()
	p.token = tok.Value
	p.expiresAt = expiresAt
	p.mu.Unlock()

	p.logger.Info("token refreshed", "client_id", p.creds.ClientID, "ttl", tok.TTL.String(), "expires_at", expiresAt)

	if p.afterRefresh != nil {
		p.afterRefresh(tok.Value, tok.TTL, expiresAt)
	}

	return tok.Value, nil
}
