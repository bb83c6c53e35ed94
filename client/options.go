package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/apiclient/client/auth"
	"github.com/adamwoolhether/apiclient/client/bypass"
	"github.com/adamwoolhether/apiclient/client/metrics"
	"github.com/adamwoolhether/apiclient/client/query"
	"github.com/adamwoolhether/apiclient/client/throttle"
)

// RequestErrorHook may translate a non-2xx response into a domain error.
// Returning nil declines, and the [HTTPError] is returned as is.
type RequestErrorHook func(e *HTTPError, requestURL string) error

// UnknownErrorHook may translate a failure that carries no response, such
// as a connection error or a failed authorization. Returning nil declines,
// and the original error is returned unchanged.
type UnknownErrorHook func(err error, requestURL string) error

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	client           *http.Client
	rt               http.RoundTripper
	timeout          *time.Duration
	timeoutMessage   string
	maxRedirects     *int
	userAgent        string
	throttle         *throttle.Config
	headers          http.Header
	basicAuth        *basicAuth
	provider         auth.Provider
	bypass           bypass.Setting
	arrayFormat      query.ArrayFormat
	dateSerializer   query.DateSerializer
	responseType     ResponseType
	responseEncoding string
	useJSONNum       bool
	onRequestError   RequestErrorHook
	onUnknownError   UnknownErrorHook
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *metrics.Metrics
}

type basicAuth struct {
	username string
	password string
}

// WithClient replaces the default [http.Client] used by the [Client].
// The given client is copied, never mutated.
func WithClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTimeout sets the overall request timeout on the underlying [http.Client].
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithTimeoutErrorMessage replaces the message of transport timeouts with
// msg; the failure is returned as a [TimeoutError].
func WithTimeoutErrorMessage(msg string) Option {
	return func(c *options) error {
		c.timeoutMessage = msg
		return nil
	}
}

// WithMaxRedirects caps the number of redirects followed. Zero disables
// following; the redirect response itself is then returned.
func WithMaxRedirects(n int) Option {
	return func(c *options) error {
		if n < 0 {
			return errors.New("max redirects must not be negative")
		}
		c.maxRedirects = &n
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return WithMaxRedirects(0)
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests per second and burst capacity.
func WithThrottle(rps float64, burst int) Option {
	return func(c *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%v] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		c.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithHeaders sets headers sent with every request. Per-request headers
// take precedence.
func WithHeaders(headers http.Header) Option {
	return func(c *options) error {
		c.headers = headers.Clone()
		return nil
	}
}

// WithBasicAuth sends HTTP basic credentials with every request. An
// authorization provider that sets the Authorization header wins.
func WithBasicAuth(username, password string) Option {
	return func(c *options) error {
		c.basicAuth = &basicAuth{username: username, password: password}
		return nil
	}
}

// WithAuthorization sets the provider that authorizes outgoing requests.
// The provider's bypass rules are merged into the client's.
func WithAuthorization(p auth.Provider) Option {
	return func(c *options) error {
		if p == nil {
			return errors.New("authorization provider must not be nil")
		}
		c.provider = p
		return nil
	}
}

// WithBypassRules skips authorization for requests matched by any rule.
// Repeated calls append.
func WithBypassRules(rules ...bypass.Rule) Option {
	return func(c *options) error {
		if c.bypass.IsAll() {
			return nil
		}
		c.bypass = bypass.Rules(append(c.bypass.List(), rules...)...)
		return nil
	}
}

// WithBypassAll skips authorization for every request.
func WithBypassAll() Option {
	return func(c *options) error {
		c.bypass = bypass.All()
		return nil
	}
}

// WithArrayFormat sets how slices in query values are serialized.
func WithArrayFormat(f query.ArrayFormat) Option {
	return func(c *options) error {
		parsed, err := query.ParseArrayFormat(string(f))
		if err != nil {
			return err
		}
		c.arrayFormat = parsed
		return nil
	}
}

// WithDateSerializer sets how [time.Time] query values are rendered.
func WithDateSerializer(fn query.DateSerializer) Option {
	return func(c *options) error {
		if fn == nil {
			return errors.New("date serializer must not be nil")
		}
		c.dateSerializer = fn
		return nil
	}
}

// WithResponseType selects how untyped response bodies are returned.
func WithResponseType(rt ResponseType) Option {
	return func(c *options) error {
		switch rt {
		case ResponseJSON, ResponseText, ResponseBytes:
		default:
			return fmt.Errorf("unknown response type %q", rt)
		}
		c.responseType = rt
		return nil
	}
}

// WithResponseEncoding names the character encoding of text responses,
// e.g. "latin1" or "shift_jis". UTF-8 is assumed when unset.
func WithResponseEncoding(name string) Option {
	return func(c *options) error {
		if _, err := lookupEncoding(name); err != nil {
			return err
		}
		c.responseEncoding = name
		return nil
	}
}

// WithJSONNumb tells the JSON decoder to use [json.Decoder.UseNumber] for
// untyped responses, preserving number precision as [json.Number].
func WithJSONNumb() Option {
	return func(c *options) error {
		c.useJSONNum = true
		return nil
	}
}

// WithRequestErrorHook installs a translation for non-2xx responses.
func WithRequestErrorHook(fn RequestErrorHook) Option {
	return func(c *options) error {
		c.onRequestError = fn
		return nil
	}
}

// WithUnknownErrorHook installs a translation for failures without a response.
func WithUnknownErrorHook(fn UnknownErrorHook) Option {
	return func(c *options) error {
		c.onUnknownError = fn
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		c.logger = logger
		return nil
	}
}

// WithTracer injects the tracer used to span each execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) error {
		c.tracer = tracer
		return nil
	}
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *options) error {
		c.metrics = m
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
