package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/text/encoding"

	"github.com/adamwoolhether/apiclient/client/auth"
	"github.com/adamwoolhether/apiclient/client/bypass"
	"github.com/adamwoolhether/apiclient/client/metrics"
	"github.com/adamwoolhether/apiclient/client/query"
)

// Client executes [Request] values against a single base URL.
//
// A Client is safe for concurrent use. All executions share the
// authorization provider, so concurrent requests that need a fresh
// credential wait on a single refresh.
type Client struct {
	c       *http.Client
	baseURL string

	headers   http.Header
	basicAuth *basicAuth
	provider  auth.Provider
	bypass    bypass.Setting
	query     query.Encoder

	responseType ResponseType
	encoding     encoding.Encoding
	encodingName string
	useJSONNum   bool

	timeoutMessage string
	onRequestError RequestErrorHook
	onUnknownError UnknownErrorHook

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

// Build returns a [Client] for baseURL configured by the given options.
//
// The provider's own bypass rules are merged into the configured ones:
// with no configured rules they become the rule list, with an explicit
// list they are appended, and bypass-all is kept as is.
func Build(baseURL string, optFns ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	client := &Client{
		baseURL:        baseURL,
		headers:        opts.headers,
		basicAuth:      opts.basicAuth,
		provider:       auth.Noop{},
		query:          query.Encoder{Format: opts.arrayFormat, Date: opts.dateSerializer},
		responseType:   ResponseJSON,
		encodingName:   opts.responseEncoding,
		useJSONNum:     opts.useJSONNum,
		timeoutMessage: opts.timeoutMessage,
		onRequestError: opts.onRequestError,
		onUnknownError: opts.onUnknownError,
		logger:         slog.Default(),
		tracer:         noop.NewTracerProvider().Tracer("no-op tracer"),
		metrics:        opts.metrics,
	}

	if opts.provider != nil {
		client.provider = opts.provider
	}
	if opts.responseType != "" {
		client.responseType = opts.responseType
	}
	if opts.logger != nil {
		client.logger = opts.logger
	}
	if opts.tracer != nil {
		client.tracer = opts.tracer
	}

	client.encoding, err = lookupEncoding(opts.responseEncoding)
	if err != nil {
		return nil, err
	}

	client.bypass = bypass.Merge(opts.bypass, client.provider.BypassRules())

	client.c, err = buildHTTPClient(&opts, func() *slog.Logger { return client.logger })
	if err != nil {
		return nil, err
	}

	return client, nil
}

// BaseURL returns the URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying [http.Client].
func (c *Client) HTTPClient() *http.Client {
	return c.c
}

// Execute runs req through the pipeline: query validation and encoding,
// input validation, authorization unless bypassed, dispatch, error
// translation and output validation.
//
// A nil error means the server answered 2xx and, when req.Output is set,
// the body satisfied it; the returned value is then the parsed body.
func (c *Client) Execute(ctx context.Context, req Request) (result any, err error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "apiclient.execute", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.method", method), attribute.String("path", req.Path))

	start := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		c.metrics.ObserveRequest(method, outcome, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	// Query.
	q := req.Query
	if req.QuerySchema != nil {
		q, err = req.QuerySchema.Parse(q)
		if err != nil {
			outcome = metrics.OutcomeValidationError
			return nil, newValidationError(PhaseQuery, resolveURL(c.baseURL, req.Path), method, err)
		}
	}

	qs, err := c.query.Encode(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	endpoint := query.Append(req.Path, qs)
	requestURL := resolveURL(c.baseURL, endpoint)
	span.SetAttributes(attribute.String("url", requestURL))

	// Input.
	data := req.Data
	if req.Input != nil {
		data, err = req.Input.Parse(data)
		if err != nil {
			outcome = metrics.OutcomeValidationError
			return nil, newValidationError(PhaseRequest, requestURL, method, err)
		}
	}

	r, err := c.newRequest(ctx, span, method, requestURL, req.Headers, data)
	if err != nil {
		return nil, err
	}

	// Authorization.
	if c.bypass.ShouldBypass(method, endpoint) {
		c.metrics.ObserveBypass(method)
		c.logger.Debug("authorization bypassed", "method", method, "endpoint", endpoint)
	} else {
		r, err = c.provider.Authorize(ctx, r)
		if err != nil {
			outcome = metrics.OutcomeAuthorizationError
			return nil, c.unknownFailure(fmt.Errorf("authorizing request: %w", err), requestURL)
		}
	}

	// Dispatch.
	c.logger.Debug("dispatching request", "method", method, "url", requestURL, "request_id", r.Header.Get(HeaderRequestID))

	resp, err := c.dispatch(r)
	if err != nil {
		outcome = metrics.OutcomeTransportError
		return nil, c.unknownFailure(err, requestURL)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if !resp.ok() {
		outcome = metrics.OutcomeHTTPError
		return nil, c.requestFailure(newHTTPError(requestURL, method, resp), requestURL)
	}

	// Output.
	if req.Output != nil {
		out, err := req.Output.Parse(json.RawMessage(resp.Body))
		if err != nil {
			outcome = metrics.OutcomeValidationError
			return nil, newValidationError(PhaseResponse, requestURL, method, err)
		}
		return out, nil
	}

	return c.decodeBody(resp.Body)
}

// Do executes req and asserts the result to T. A response without a body
// yields the zero T.
func Do[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var zero T

	v, err := c.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrResultType, v, zero)
	}

	return t, nil
}

// newRequest builds the outgoing request. Precedence for headers, lowest
// first: client headers, body content type, request headers.
func (c *Client) newRequest(ctx context.Context, span trace.Span, method, requestURL string, headers http.Header, data any) (*http.Request, error) {
	body, contentType, err := encodeBody(data)
	if err != nil {
		return nil, err
	}

	r, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for k, v := range c.headers {
		for _, element := range v {
			r.Header.Add(k, element)
		}
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		r.Header.Del(k)
		for _, element := range v {
			r.Header.Add(k, element)
		}
	}

	if r.Header.Get(HeaderRequestID) == "" {
		requestID := span.SpanContext().TraceID().String()
		if !span.SpanContext().TraceID().IsValid() {
			requestID = uuid.New().String()
		}
		r.Header.Set(HeaderRequestID, requestID)
	}

	if c.basicAuth != nil && r.Header.Get(auth.HeaderAuthorization) == "" {
		r.SetBasicAuth(c.basicAuth.username, c.basicAuth.password)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))

	return r, nil
}

// requestFailure offers a non-2xx failure to the request error hook.
func (c *Client) requestFailure(he *HTTPError, requestURL string) error {
	c.logger.Debug("request failed", "method", he.Method, "url", requestURL, "status", he.StatusCode)

	if c.onRequestError != nil {
		if err := c.onRequestError(he, requestURL); err != nil {
			return err
		}
	}

	return he
}

// unknownFailure offers a failure without a response to the unknown error
// hook. A declined failure is returned unchanged.
func (c *Client) unknownFailure(err error, requestURL string) error {
	if !errors.Is(err, context.Canceled) {
		c.logger.Debug("request failed without response", "url", requestURL, "error", err)
	}

	if c.onUnknownError != nil {
		if herr := c.onUnknownError(err, requestURL); herr != nil {
			return herr
		}
	}

	return err
}
