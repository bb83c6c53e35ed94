// Package apiclient is the entry point for building typed API clients.
//
// It re-exports the constructor of [client.Client]; the request pipeline,
// options and error types live in package client, and the pluggable
// pieces in its subpackages auth, bypass, query, schema, throttle and
// metrics.
package apiclient

import (
	"github.com/adamwoolhether/apiclient/client"
)

// NewClient instantiates a new *Client for baseURL with the provided options.
// If not specified, a copy of the default http.Client and http.DefaultTransport are used.
func NewClient(baseURL string, opts ...client.Option) (*client.Client, error) {
	return client.Build(baseURL, opts...)
}

// NewClientFromFile builds a *Client from the TOML configuration at path.
// opts are applied after the file's settings.
func NewClientFromFile(path string, opts ...client.Option) (*client.Client, error) {
	cfg, err := client.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return client.FromConfig(cfg, opts...)
}
