package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/adamwoolhether/apiclient/client/bypass"
	"github.com/adamwoolhether/apiclient/client/metrics"
)

// DefaultLeadTime is how long before expiry a token is refreshed.
const DefaultLeadTime = 500 * time.Millisecond

// RefreshHook observes a successful refresh: the new token, the
// issuer-supplied ttl and the absolute expiry.
type RefreshHook func(token string, ttl time.Duration, expiresAt time.Time)

// Option is a functional option for [NewClientCredentials].
type Option func(*options) error
type options struct {
	leadTime     *time.Duration
	rules        []bypass.Rule
	afterRefresh RefreshHook
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// WithLeadTime sets how long before expiry the token is refreshed.
func WithLeadTime(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("lead time must not be negative")
		}
		o.leadTime = &d
		return nil
	}
}

// WithBypassRules declares rules the provider requires, typically a
// pattern matching the token endpoint when it shares the client's base URL.
func WithBypassRules(rules ...bypass.Rule) Option {
	return func(o *options) error {
		o.rules = append(o.rules, rules...)
		return nil
	}
}

// WithAfterRefresh registers a hook invoked after every successful refresh.
func WithAfterRefresh(fn RefreshHook) Option {
	return func(o *options) error {
		o.afterRefresh = fn
		return nil
	}
}

// WithClock overrides the time source used for expiry tracking.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		o.now = now
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithMetrics records refresh outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}
