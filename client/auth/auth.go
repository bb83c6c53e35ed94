// Package auth defines how outgoing requests get their credentials.
//
// A [Provider] declares the bypass rules it needs and attaches
// authorization material to a request. [Noop] and [Bearer] are stateless;
// [ClientCredentials] exchanges client credentials for short-lived tokens
// and coalesces concurrent refreshes into a single exchange.
package auth

import (
	"context"
	"net/http"

	"github.com/adamwoolhether/apiclient/client/bypass"
)

// HeaderAuthorization is the header carrying the credential.
const HeaderAuthorization = "Authorization"

// Provider attaches authorization to outgoing requests.
//
// BypassRules returns the rules the provider itself requires, such as the
// token endpoint of a credential exchange. Authorize returns a request
// carrying credentials; it may block but must not dispatch the request.
type Provider interface {
	BypassRules() []bypass.Rule
	Authorize(ctx context.Context, r *http.Request) (*http.Request, error)
}

// Noop leaves requests untouched.
type Noop struct{}

// BypassRules returns no rules.
func (Noop) BypassRules() []bypass.Rule { return nil }

// Authorize returns r unchanged.
func (Noop) Authorize(_ context.Context, r *http.Request) (*http.Request, error) {
	return r, nil
}

// Bearer injects a static bearer token.
type Bearer struct {
	token string
}

// NewBearer returns a [Bearer] provider for token.
func NewBearer(token string) Bearer {
	return Bearer{token: token}
}

// BypassRules returns no rules.
func (Bearer) BypassRules() []bypass.Rule { return nil }

// Authorize sets the Authorization header on a copy of r.
func (b Bearer) Authorize(ctx context.Context, r *http.Request) (*http.Request, error) {
	return withBearer(ctx, r, b.token), nil
}

func withBearer(ctx context.Context, r *http.Request, token string) *http.Request {
	cpy := r.Clone(ctx)
	cpy.Header.Set(HeaderAuthorization, "Bearer "+token)
	return cpy
}
