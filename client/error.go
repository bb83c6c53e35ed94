package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamwoolhether/apiclient/client/schema"
)

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [HTTPError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the server
	// responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
	// ErrValidation is matched by every [ValidationError].
	ErrValidation = errors.New("validation failed")
	// ErrResultType is returned by [Do] when the result is not of the requested type.
	ErrResultType = errors.New("unexpected result type")
)

// Phase names the pipeline stage at which validation failed.
type Phase string

const (
	PhaseQuery    Phase = "query"
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// ValidationError reports a payload that did not satisfy its schema.
// Message is the prettified report of the schema engine.
type ValidationError struct {
	Phase   Phase
	URL     string
	Method  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s validation failed:\n%s", e.Method, e.URL, e.Phase, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// HTTPError is returned when the server answers with a non-2xx status.
// Body holds the raw response body, untouched.
type HTTPError struct {
	URL        string
	Method     string
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%v: %d %s, %s %s, body: %s", e.Err, e.StatusCode, e.StatusText, e.Method, e.URL, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Decode unmarshals the JSON response body into v.
func (e *HTTPError) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decoding error body: %w", err)
	}
	return nil
}

// TimeoutError replaces a transport timeout when a timeout error message
// is configured.
type TimeoutError struct {
	Message string
	Err     error
}

func (e *TimeoutError) Error() string {
	return e.Message
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Timeout reports true; it satisfies the net.Error timeout convention.
func (e *TimeoutError) Timeout() bool { return true }

// AsHTTPError returns the [HTTPError] in err's chain, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if !errors.As(err, &he) {
		return nil, false
	}
	return he, true
}

// AsValidationError returns the [ValidationError] in err's chain, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return nil, false
	}
	return ve, true
}

func newValidationError(phase Phase, url, method string, err error) *ValidationError {
	return &ValidationError{
		Phase:   phase,
		URL:     url,
		Method:  method,
		Message: schema.Prettify(err),
		Err:     err,
	}
}

func newHTTPError(url, method string, resp *response) *HTTPError {
	var sentinel error = ErrUnexpectedStatusCode
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		sentinel = fmt.Errorf("%w: %w", ErrAuthFailure, ErrUnexpectedStatusCode)
	}

	return &HTTPError{
		URL:        url,
		Method:     method,
		StatusCode: resp.StatusCode,
		StatusText: resp.StatusText,
		Header:     resp.Header,
		Body:       resp.Body,
		Err:        sentinel,
	}
}
