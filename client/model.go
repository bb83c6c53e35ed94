package client

import (
	"net/http"

	"github.com/adamwoolhether/apiclient/client/schema"
)

// HeaderRequestID carries the per-execution correlation id.
const HeaderRequestID = "X-Request-ID"

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeText = "text/plain; charset=utf-8"
)

// ResponseType selects how a successful response body is returned when
// the request carries no inbound schema.
type ResponseType string

const (
	// ResponseJSON decodes the body as JSON into an any. Bodies that are not
	// valid JSON are returned as a string.
	ResponseJSON ResponseType = "json"
	// ResponseText returns the body as a string, decoded from the configured
	// response encoding.
	ResponseText ResponseType = "text"
	// ResponseBytes returns the raw body as []byte.
	ResponseBytes ResponseType = "bytes"
)

// Request describes one call through [Client.Execute].
//
// Query is serialized with the client's array format and date serializer;
// see [github.com/adamwoolhether/apiclient/client/query.Encoder] for the
// accepted shapes. Data is the request body: []byte, string and
// [io.Reader] values are sent as is, [url.Values] are form encoded and
// anything else is JSON encoded.
type Request struct {
	Method  string
	Path    string
	Query   any
	Headers http.Header
	Data    any

	// QuerySchema, when set, validates Query before it is serialized.
	QuerySchema schema.Schema
	// Input, when set, validates Data; the parsed value is what gets sent.
	Input schema.Schema
	// Output, when set, validates the response body; the parsed value is
	// what gets returned.
	Output schema.Schema
}

// response is the buffered result of a dispatch.
type response struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}
