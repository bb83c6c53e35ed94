package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamwoolhether/apiclient/client/auth"
	"github.com/adamwoolhether/apiclient/client/bypass"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewClientCredentials_Validation(t *testing.T) {
	if _, err := auth.NewClientCredentials(auth.Credentials{}, nil); !errors.Is(err, auth.ErrNoExchanger) {
		t.Errorf("nil exchanger error = %v, want ErrNoExchanger", err)
	}

	ex := auth.ExchangeFunc(func(context.Context, auth.Credentials) (auth.Token, error) { return auth.Token{}, nil })
	if _, err := auth.NewClientCredentials(auth.Credentials{}, ex, auth.WithLeadTime(-time.Second)); err == nil {
		t.Error("expected error for negative lead time")
	}
	if _, err := auth.NewClientCredentials(auth.Credentials{}, ex, auth.WithClock(nil)); err == nil {
		t.Error("expected error for nil clock")
	}
}

func TestClientCredentials_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	ex := auth.ExchangeFunc(func(_ context.Context, creds auth.Credentials) (auth.Token, error) {
		calls.Add(1)
		<-release
		return auth.Token{Value: "tok-" + creds.ClientID, TTL: time.Hour}, nil
	})

	p, err := auth.NewClientCredentials(auth.Credentials{ClientID: "svc", ClientSecret: "s3cret"}, ex)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			tokens[i], errs[i] = p.ValidToken(t.Context())
		})
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(10 * time.Millisecond) // let the remaining callers join the in-flight refresh
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange called %d times, want 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "tok-svc" {
			t.Fatalf("caller %d token = %q, want tok-svc", i, tokens[i])
		}
	}
}

func TestClientCredentials_FailurePropagatesAndClears(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	errDenied := errors.New("denied")

	ex := auth.ExchangeFunc(func(context.Context, auth.Credentials) (auth.Token, error) {
		if calls.Add(1) == 1 {
			<-release
			return auth.Token{}, errDenied
		}
		return auth.Token{Value: "second", TTL: time.Hour}, nil
	})

	p, err := auth.NewClientCredentials(auth.Credentials{ClientID: "svc"}, ex)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			_, errs[i] = p.ValidToken(t.Context())
		})
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errDenied) {
			t.Fatalf("caller %d error = %v, want errDenied", i, err)
		}
	}

	if tok, _ := p.State(); tok != "" {
		t.Fatalf("failed refresh cached token %q", tok)
	}

	tok, err := p.ValidToken(t.Context())
	if err != nil {
		t.Fatalf("ValidToken after failure: %v", err)
	}
	if tok != "second" {
		t.Errorf("token = %q, want second", tok)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("exchange called %d times, want 2", got)
	}
}

func TestClientCredentials_ExpiryAndLeadTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	start := clock.Now()

	var calls atomic.Int32
	ex := auth.ExchangeFunc(func(context.Context, auth.Credentials) (auth.Token, error) {
		n := calls.Add(1)
		return auth.Token{Value: "tok-" + string(rune('0'+n)), TTL: 10 * time.Second}, nil
	})

	type refresh struct {
		token     string
		ttl       time.Duration
		expiresAt time.Time
	}
	var hooked []refresh

	p, err := auth.NewClientCredentials(auth.Credentials{}, ex,
		auth.WithClock(clock.Now),
		auth.WithLeadTime(500*time.Millisecond),
		auth.WithAfterRefresh(func(token string, ttl time.Duration, expiresAt time.Time) {
			hooked = append(hooked, refresh{token, ttl, expiresAt})
		}),
	)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	tok, err := p.ValidToken(t.Context())
	if err != nil || tok != "tok-1" {
		t.Fatalf("first ValidToken = %q, %v", tok, err)
	}

	_, expiresAt := p.State()
	if want := start.Add(10 * time.Second); !expiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, want)
	}

	clock.Advance(9 * time.Second)
	if tok, _ := p.ValidToken(t.Context()); tok != "tok-1" {
		t.Fatalf("token inside validity window = %q, want cached tok-1", tok)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange called %d times inside validity window, want 1", got)
	}

	clock.Advance(600 * time.Millisecond) // now + lead time passes expiry
	if tok, _ := p.ValidToken(t.Context()); tok != "tok-2" {
		t.Fatalf("token inside lead time = %q, want refreshed tok-2", tok)
	}

	if len(hooked) != 2 {
		t.Fatalf("after-refresh hook called %d times, want 2", len(hooked))
	}
	last := hooked[1]
	if last.token != "tok-2" || last.ttl != 10*time.Second || !last.expiresAt.Equal(clock.Now().Add(10*time.Second)) {
		t.Errorf("hook args = %+v", last)
	}
}

func TestClientCredentials_CancelledWaiterDoesNotCancelRefresh(t *testing.T) {
	release := make(chan struct{})
	exchangeErr := make(chan error, 1)

	ex := auth.ExchangeFunc(func(ctx context.Context, _ auth.Credentials) (auth.Token, error) {
		<-release
		exchangeErr <- ctx.Err()
		return auth.Token{Value: "shared", TTL: time.Hour}, nil
	})

	p, err := auth.NewClientCredentials(auth.Credentials{}, ex)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancelled := make(chan error, 1)
	go func() {
		_, err := p.ValidToken(ctx)
		cancelled <- err
	}()

	other := make(chan string, 1)
	go func() {
		tok, _ := p.ValidToken(t.Context())
		other <- tok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter error = %v, want context.Canceled", err)
	}

	close(release)

	if err := <-exchangeErr; err != nil {
		t.Errorf("shared refresh observed cancellation: %v", err)
	}
	if tok := <-other; tok != "shared" {
		t.Errorf("other waiter token = %q, want shared", tok)
	}
}

func TestClientCredentials_EmptyTokenIsFailure(t *testing.T) {
	ex := auth.ExchangeFunc(func(context.Context, auth.Credentials) (auth.Token, error) {
		return auth.Token{TTL: time.Hour}, nil
	})

	p, err := auth.NewClientCredentials(auth.Credentials{}, ex)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	if _, err := p.ValidToken(t.Context()); !errors.Is(err, auth.ErrEmptyToken) {
		t.Errorf("error = %v, want ErrEmptyToken", err)
	}
}

func TestClientCredentials_Authorize(t *testing.T) {
	ex := auth.ExchangeFunc(func(context.Context, auth.Credentials) (auth.Token, error) {
		return auth.Token{Value: "abc", TTL: time.Hour}, nil
	})
	rule := bypass.MustMatch(`^/oauth/token`)

	p, err := auth.NewClientCredentials(auth.Credentials{}, ex, auth.WithBypassRules(rule))
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}

	if n := len(p.BypassRules()); n != 1 {
		t.Fatalf("BypassRules() len = %d, want 1", n)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/v1/users", nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Authorize(t.Context(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if h := got.Header.Get(auth.HeaderAuthorization); h != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", h, "Bearer abc")
	}
	if h := req.Header.Get(auth.HeaderAuthorization); h != "" {
		t.Errorf("original request mutated: %q", h)
	}
}
