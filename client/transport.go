package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/adamwoolhether/apiclient/client/throttle"
)

// buildHTTPClient assembles the transport chain:
// base -> User-Agent -> throttle.
func buildHTTPClient(opts *options, logFn func() *slog.Logger) (*http.Client, error) {
	hc := &http.Client{}
	if opts.client != nil {
		*hc = *opts.client
	}

	if opts.timeout != nil {
		hc.Timeout = *opts.timeout
	}

	if opts.maxRedirects != nil {
		hc.CheckRedirect = maxRedirects(*opts.maxRedirects)
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(*opts.throttle, logFn, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	hc.Transport = transport

	return hc, nil
}

func maxRedirects(n int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if n == 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > n {
			return fmt.Errorf("stopped after %d redirects", n)
		}
		return nil
	}
}

// resolveURL joins base and endpoint with exactly one slash. Absolute
// endpoints are returned as is.
func resolveURL(base, endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return endpoint
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// encodeBody renders data for the wire and returns the matching content type.
func encodeBody(data any) (io.Reader, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case json.RawMessage:
		return bytes.NewReader(v), contentTypeJSON, nil
	case string:
		return strings.NewReader(v), contentTypeText, nil
	case url.Values:
		return strings.NewReader(v.Encode()), contentTypeForm, nil
	case io.Reader:
		return v, "", nil
	}

	var payload bytes.Buffer
	if err := json.NewEncoder(&payload).Encode(data); err != nil {
		return nil, "", fmt.Errorf("encoding request payload: %w", err)
	}

	return &payload, contentTypeJSON, nil
}

// dispatch sends req and buffers the response.
func (c *Client) dispatch(req *http.Request) (*response, error) {
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, c.translateTimeout(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.translateTimeout(fmt.Errorf("reading response body: %w", err))
	}

	return &response{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) translateTimeout(err error) error {
	if c.timeoutMessage == "" || !isTimeout(err) {
		return err
	}
	return &TimeoutError{Message: c.timeoutMessage, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusText extracts the reason phrase from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// decodeBody renders a successful response body according to the
// configured response type.
func (c *Client) decodeBody(body []byte) (any, error) {
	switch c.responseType {
	case ResponseBytes:
		return body, nil

	case ResponseText:
		if c.encoding == nil {
			return string(body), nil
		}
		b, err := c.encoding.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", c.encodingName, err)
		}
		return string(b), nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	d := json.NewDecoder(bytes.NewReader(body))
	if c.useJSONNum {
		d.UseNumber()
	}

	var v any
	if err := d.Decode(&v); err != nil {
		// Not JSON: hand back the text, as a browser-style client would.
		return string(body), nil
	}

	return v, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("response encoding %q: %w", name, err)
	}

	return enc, nil
}
