package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/adamwoolhether/apiclient/client/auth"
	"github.com/adamwoolhether/apiclient/client/bypass"
	"github.com/adamwoolhether/apiclient/client/query"
	"github.com/adamwoolhether/apiclient/client/throttle"
)

// Auth types accepted in [AuthConfig.Type].
const (
	AuthNone              = "none"
	AuthBearer            = "bearer"
	AuthClientCredentials = "client_credentials"
)

// Config is the serializable subset of a [Client]'s configuration, read
// from TOML by [LoadConfig]. Hooks, schemas, loggers and custom
// providers can only be set through options.
type Config struct {
	BaseURL             string            `toml:"base_url"`
	Headers             map[string]string `toml:"headers"`
	MaxRedirects        *int              `toml:"max_redirects"`
	BasicAuth           *BasicAuthConfig  `toml:"basic_auth"`
	ResponseType        string            `toml:"response_type"`
	ResponseEncoding    string            `toml:"response_encoding"`
	Timeout             string            `toml:"timeout"`
	TimeoutErrorMessage string            `toml:"timeout_error_message"`
	UserAgent           string            `toml:"user_agent"`
	AuthBypassAll       bool              `toml:"auth_bypass_all"`
	AuthBypassPatterns  []string          `toml:"auth_bypass_patterns"` // absent keeps the provider's own rules only
	ParamsArrayFormat   string            `toml:"params_array_format"`
	Throttle            *throttle.Config  `toml:"throttle"`
	Auth                AuthConfig        `toml:"auth"`
}

// BasicAuthConfig holds HTTP basic credentials.
type BasicAuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AuthConfig selects and configures a built-in [auth.Provider].
//
// Token and ClientSecret are expanded with [os.ExpandEnv], so secrets can
// be kept out of the file as "${API_TOKEN}".
type AuthConfig struct {
	Type              string   `toml:"type"`
	Token             string   `toml:"token"`
	TokenURL          string   `toml:"token_url"`
	ClientID          string   `toml:"client_id"`
	ClientSecret      string   `toml:"client_secret"`
	Scopes            []string `toml:"scopes"`
	Audience          string   `toml:"audience"`
	CredentialsInBody bool     `toml:"credentials_in_body"`
	LeadTime          string   `toml:"lead_time"`
	DefaultTTL        string   `toml:"default_ttl"`
}

// LoadConfig reads and validates the TOML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes and validates a TOML document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}

	cfg.Auth.Token = os.ExpandEnv(cfg.Auth.Token)
	cfg.Auth.ClientSecret = os.ExpandEnv(cfg.Auth.ClientSecret)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields that options would otherwise reject late.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || !u.IsAbs() {
		return fmt.Errorf("base_url must be an absolute URL; got %q", c.BaseURL)
	}

	if c.MaxRedirects != nil && *c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be non-negative; got %d", *c.MaxRedirects)
	}

	switch ResponseType(c.ResponseType) {
	case "", ResponseJSON, ResponseText, ResponseBytes:
	default:
		return fmt.Errorf("response_type must be one of: json, text, bytes; got %q", c.ResponseType)
	}

	if c.ParamsArrayFormat != "" {
		if _, err := query.ParseArrayFormat(c.ParamsArrayFormat); err != nil {
			return fmt.Errorf("params_array_format: %w", err)
		}
	}

	for _, d := range []struct{ key, val string }{
		{"timeout", c.Timeout},
		{"auth.lead_time", c.Auth.LeadTime},
		{"auth.default_ttl", c.Auth.DefaultTTL},
	} {
		if _, err := parseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	for _, p := range c.AuthBypassPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("auth_bypass_patterns: %w", err)
		}
	}

	switch strings.ToLower(c.Auth.Type) {
	case "", AuthNone:
	case AuthBearer:
		if c.Auth.Token == "" {
			return errors.New("auth.token is required for bearer auth")
		}
	case AuthClientCredentials:
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			return errors.New("auth.token_url and auth.client_id are required for client_credentials auth")
		}
	default:
		return fmt.Errorf("auth.type must be one of: none, bearer, client_credentials; got %q", c.Auth.Type)
	}

	return nil
}

// Options translates c into client options. Options passed to [Build]
// after these take precedence.
func (c Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var opts []Option

	if len(c.Headers) > 0 {
		h := make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			h.Set(k, v)
		}
		opts = append(opts, WithHeaders(h))
	}
	if c.MaxRedirects != nil {
		opts = append(opts, WithMaxRedirects(*c.MaxRedirects))
	}
	if c.BasicAuth != nil {
		opts = append(opts, WithBasicAuth(c.BasicAuth.Username, c.BasicAuth.Password))
	}
	if c.ResponseType != "" {
		opts = append(opts, WithResponseType(ResponseType(c.ResponseType)))
	}
	if c.ResponseEncoding != "" {
		opts = append(opts, WithResponseEncoding(c.ResponseEncoding))
	}
	if c.Timeout != "" {
		d, _ := parseDuration(c.Timeout)
		opts = append(opts, WithTimeout(d))
	}
	if c.TimeoutErrorMessage != "" {
		opts = append(opts, WithTimeoutErrorMessage(c.TimeoutErrorMessage))
	}
	if c.UserAgent != "" {
		opts = append(opts, WithUserAgent(c.UserAgent))
	}
	if c.ParamsArrayFormat != "" {
		opts = append(opts, WithArrayFormat(query.ArrayFormat(c.ParamsArrayFormat)))
	}
	if c.Throttle != nil {
		opts = append(opts, WithThrottle(c.Throttle.RPS, c.Throttle.Burst))
	}

	switch {
	case c.AuthBypassAll:
		opts = append(opts, WithBypassAll())
	case c.AuthBypassPatterns != nil:
		rules := make([]bypass.Rule, 0, len(c.AuthBypassPatterns))
		for _, p := range c.AuthBypassPatterns {
			rules = append(rules, bypass.MustMatch(p))
		}
		opts = append(opts, WithBypassRules(rules...))
	}

	provider, err := c.Auth.provider(c.BaseURL)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		opts = append(opts, WithAuthorization(provider))
	}

	return opts, nil
}

// WithConfig applies the options derived from cfg, which must be valid.
// cfg.BaseURL is only used to detect a token endpoint under it; use
// [FromConfig] to also take the client's base URL from cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) error {
		opts, err := cfg.Options()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		for _, opt := range opts {
			if err := opt(o); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromConfig builds a [Client] for cfg.BaseURL. opts are applied after
// the configuration.
func FromConfig(cfg Config, opts ...Option) (*Client, error) {
	return Build(cfg.BaseURL, append([]Option{WithConfig(cfg)}, opts...)...)
}

// provider returns nil for no authorization. A token endpoint under
// baseURL is bypassed so its own exchange is not authorized.
func (a AuthConfig) provider(baseURL string) (auth.Provider, error) {
	switch strings.ToLower(a.Type) {
	case AuthBearer:
		return auth.NewBearer(a.Token), nil

	case AuthClientCredentials:
		ttl, _ := parseDuration(a.DefaultTTL)
		ex := auth.TokenEndpoint{
			URL:               a.TokenURL,
			Scopes:            a.Scopes,
			Audience:          a.Audience,
			CredentialsInBody: a.CredentialsInBody,
			DefaultTTL:        ttl,
		}

		var opts []auth.Option
		if a.LeadTime != "" {
			lead, _ := parseDuration(a.LeadTime)
			opts = append(opts, auth.WithLeadTime(lead))
		}
		if rel, ok := strings.CutPrefix(a.TokenURL, strings.TrimRight(baseURL, "/")); ok {
			opts = append(opts, auth.WithBypassRules(bypass.Match(regexp.MustCompile("^/?"+regexp.QuoteMeta(strings.TrimLeft(rel, "/"))))))
		}

		return auth.NewClientCredentials(auth.Credentials{ClientID: a.ClientID, ClientSecret: a.ClientSecret}, ex, opts...)
	}

	return nil, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative; got %s", s)
	}

	return d, nil
}
