// Command apicall executes a single request through the apiclient pipeline
// using a TOML client configuration.
//
//	apicall -c client.toml GET /users -q page=2 -H 'X-Tenant: acme'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adamwoolhether/apiclient/client"
	"github.com/adamwoolhether/apiclient/client/metrics"
)

// Set by ldflags.
var version = "dev"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string   `kong:"short='c',required,help='Path to TOML client config.',env='APICALL_CONFIG',type='existingfile'"`
	BaseURL  string   `kong:"help='Base URL (overrides config).',env='APICALL_BASE_URL'"`
	Token    string   `kong:"help='Static bearer token (overrides config auth).',env='APICALL_TOKEN'"`
	Query    []string `kong:"short='q',help='Query parameter as key=value; repeat for arrays.'"`
	Header   []string `kong:"short='H',help='Request header as \"Name: value\".'"`
	Data     string   `kong:"short='d',help='JSON request body, or @file to read it from a file.'"`
	LogLevel string   `kong:"default='warn',enum='debug,info,warn,error',help='Log level.',env='LOG_LEVEL'"`
	Metrics  bool     `kong:"help='Print pipeline metrics to stderr when done.'"`
	Version  kong.VersionFlag

	Method string `kong:"arg,help='HTTP method.'"`
	Path   string `kong:"arg,help='Path relative to the base URL.'"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("apicall"),
		kong.Description("Execute one request through a configured API client."),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cli, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "apicall:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cli CLI, stdout, stderr io.Writer) error {
	logger := newLogger(cli.LogLevel, stderr)

	cfg, err := client.LoadConfig(cli.Config)
	if err != nil {
		return err
	}
	applyCLI(&cfg, cli)

	reg := prometheus.NewRegistry()

	c, err := client.FromConfig(cfg,
		client.WithLogger(logger),
		client.WithMetrics(metrics.New("apicall", reg)),
	)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}

	req, err := buildRequest(cli)
	if err != nil {
		return err
	}

	result, err := c.Execute(ctx, req)
	if cli.Metrics {
		defer printMetrics(reg, stderr)
	}
	if err != nil {
		if he, ok := client.AsHTTPError(err); ok {
			fmt.Fprintf(stderr, "%d %s\n%s\n", he.StatusCode, he.StatusText, he.Body)
		}
		return err
	}

	return printResult(stdout, result)
}

// applyCLI overrides config values with non-zero CLI flags.
func applyCLI(cfg *client.Config, cli CLI) {
	if cli.BaseURL != "" {
		cfg.BaseURL = cli.BaseURL
	}
	if cli.Token != "" {
		cfg.Auth = client.AuthConfig{Type: client.AuthBearer, Token: cli.Token}
	}
}

func buildRequest(cli CLI) (client.Request, error) {
	req := client.Request{
		Method: strings.ToUpper(cli.Method),
		Path:   cli.Path,
	}

	if len(cli.Query) > 0 {
		q := url.Values{}
		for _, kv := range cli.Query {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return client.Request{}, fmt.Errorf("query %q: want key=value", kv)
			}
			q.Add(k, v)
		}
		req.Query = q
	}

	if len(cli.Header) > 0 {
		req.Headers = http.Header{}
		for _, h := range cli.Header {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return client.Request{}, fmt.Errorf("header %q: want \"Name: value\"", h)
			}
			req.Headers.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}

	if cli.Data != "" {
		data := []byte(cli.Data)
		if file, ok := strings.CutPrefix(cli.Data, "@"); ok {
			b, err := os.ReadFile(file)
			if err != nil {
				return client.Request{}, fmt.Errorf("reading body: %w", err)
			}
			data = b
		}
		if !json.Valid(data) {
			return client.Request{}, errors.New("request body is not valid JSON")
		}
		req.Data = json.RawMessage(data)
	}

	return req, nil
}

func printResult(w io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func printMetrics(g prometheus.Gatherer, w io.Writer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintln(w, "gathering metrics:", err)
		return
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(w, "%s{%s} %v\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
