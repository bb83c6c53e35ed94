// Package throttle provides an [http.RoundTripper] that rate-limits
// outbound HTTP requests using the token bucket of [golang.org/x/time/rate].
//
// Wrap an existing transport with [NewRoundTripper]:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 2.5, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// When the bucket is empty, requests block until a token becomes
// available or the request context ends.
package throttle
