package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	status int
	body   string
	err    error
}

// scriptedRoundTripper replays a per-host list of responses; the last step
// of each host repeats.
type scriptedRoundTripper struct {
	mu    sync.Mutex
	steps map[string][]step
	calls []string
}

func (s *scriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	host := req.URL.Host
	s.calls = append(s.calls, host)

	steps := s.steps[host]
	if len(steps) == 0 {
		return nil, errors.New("unexpected call to " + host)
	}
	st := steps[0]
	if len(steps) > 1 {
		s.steps[host] = steps[1:]
	}
	if st.err != nil {
		return nil, st.err
	}
	return &http.Response{
		StatusCode: st.status,
		Body:       io.NopCloser(strings.NewReader(st.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (s *scriptedRoundTripper) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestTransport(rt http.RoundTripper, policy RetryPolicy, hosts HostTable) (*Transport, *sleepRecorder) {
	tr := New(Options{
		Policy:     policy,
		Hosts:      hosts,
		HTTPClient: &http.Client{Transport: rt},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	rec := &sleepRecorder{}
	tr.sleep = rec.sleep
	return tr, rec
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          4,
		BaseDelay:            100 * time.Millisecond,
		MaxDelay:             time.Second,
		TransientStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

var failoverHosts = HostTable{
	"a.example.com": {"a.example.com", "b.example.com"},
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(200))
}

func TestRetryPolicy_DelayMonotonicUntilCap(t *testing.T) {
	policies := []RetryPolicy{
		{BaseDelay: time.Millisecond, MaxDelay: time.Second},
		{BaseDelay: 250 * time.Millisecond, MaxDelay: 30 * time.Second},
		{BaseDelay: 3 * time.Second, MaxDelay: 3 * time.Second},
		{BaseDelay: 7 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		{BaseDelay: time.Hour, MaxDelay: 24 * time.Hour},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		capped := false
		for attempt := 0; attempt < 80; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "delay decreased at attempt %d", attempt)
			assert.LessOrEqual(t, d, p.MaxDelay)
			if capped {
				assert.Equal(t, p.MaxDelay, d, "delay must stay at max once reached")
			}
			if d == p.MaxDelay {
				capped = true
			}
			prev = d
		}
		assert.True(t, capped)
	}
}

func TestTransport_TransientThenSuccessStaysOnHost(t *testing.T) {
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{status: 503}, {status: 200, body: `{"ok":true}`}},
		"b.example.com": {{status: 200, body: `{"ok":"wrong host"}`}},
	}}
	tr, rec := newTestTransport(rt, testPolicy(), failoverHosts)

	res, err := tr.Fetch(context.Background(), "https://a.example.com/products.json", nil)
	require.NoError(t, err)

	assert.Equal(t, "a.example.com", res.Host)
	assert.Equal(t, []string{"a.example.com", "a.example.com"}, rt.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
	assert.Equal(t, 2, res.Attempts)
	assert.JSONEq(t, `{"ok":true}`, res.Text())
}

func TestTransport_DNSFailureSwitchesHostImmediately(t *testing.T) {
	dnsErr := errors.New("dial tcp: lookup a.example.com: no such host")
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{err: dnsErr}},
		"b.example.com": {{status: 200, body: `[]`}},
	}}
	tr, rec := newTestTransport(rt, testPolicy(), failoverHosts)

	res, err := tr.Fetch(context.Background(), "https://a.example.com/products.json", nil)
	require.NoError(t, err)

	assert.Equal(t, "b.example.com", res.Host)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rt.Calls(), "host A must not use its remaining attempts")
	assert.Empty(t, rec.delays, "host switch must not back off")
}

func TestTransport_UnclassifiedNetworkErrorRetriesSameHost(t *testing.T) {
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{err: errors.New("read: connection reset by peer")}, {status: 200}},
		"b.example.com": {{status: 200}},
	}}
	tr, rec := newTestTransport(rt, testPolicy(), failoverHosts)

	res, err := tr.Fetch(context.Background(), "https://a.example.com/", nil)
	require.NoError(t, err)

	assert.Equal(t, "a.example.com", res.Host)
	assert.Equal(t, []string{"a.example.com", "a.example.com"}, rt.Calls())
	assert.Len(t, rec.delays, 1)
}

func TestTransport_NonTransientStatusIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		blocked bool
	}{
		{"not found", 404, false},
		{"unauthorized", 401, false},
		{"forbidden", 403, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &scriptedRoundTripper{steps: map[string][]step{
				"a.example.com": {{status: tt.status}},
				"b.example.com": {{status: 200}},
			}}
			tr, rec := newTestTransport(rt, testPolicy(), failoverHosts)

			_, err := tr.Fetch(context.Background(), "https://a.example.com/products/x.json", nil)
			require.Error(t, err)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, Fatal, fe.Kind)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, 1, fe.Attempts)
			assert.ErrorIs(t, err, ErrUnexpectedStatus)
			assert.Equal(t, tt.blocked, errors.Is(err, ErrBlocked))
			assert.Equal(t, []string{"a.example.com"}, rt.Calls(), "content-level errors never fail over")
			assert.Empty(t, rec.delays)
		})
	}
}

func TestTransport_TransientExhaustedIsFatal(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 3
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{status: 503}},
	}}
	tr, rec := newTestTransport(rt, policy, nil)

	_, err := tr.Fetch(context.Background(), "https://a.example.com/", nil)
	require.Error(t, err)

	assert.Equal(t, Fatal, KindOf(err))
	assert.ErrorIs(t, err, ErrTransientStatus)
	assert.Len(t, rt.Calls(), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestTransport_AllHostsUnreachable(t *testing.T) {
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{err: errors.New("getaddrinfo failed")}},
		"b.example.com": {{err: errors.New("dial tcp: lookup b.example.com: Name or service not known")}},
	}}
	tr, rec := newTestTransport(rt, testPolicy(), failoverHosts)

	_, err := tr.Fetch(context.Background(), "https://a.example.com/", nil)
	require.Error(t, err)

	assert.Equal(t, Fatal, KindOf(err))
	assert.ErrorIs(t, err, ErrHostUnreachable)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rt.Calls())
	assert.Empty(t, rec.delays)
}

func TestTransport_CancelledDuringBackoff(t *testing.T) {
	rt := &scriptedRoundTripper{steps: map[string][]step{
		"a.example.com": {{status: 502}},
	}}
	tr, _ := newTestTransport(rt, testPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := tr.Fetch(ctx, "https://a.example.com/", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rt.Calls(), 1)
}

func TestTransport_AgainstHTTPServer(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []*http.Request
		bodies   []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, r)
		bodies = append(bodies, string(body))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"products":[]}`))
	}))
	defer server.Close()

	tr := New(Options{Policy: testPolicy(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	res, err := tr.Fetch(context.Background(), server.URL+"/products.json", url.Values{"page": {"2"}, "limit": {"250"}})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, res.JSON(&payload))
	assert.Contains(t, payload, "products")

	_, err = tr.PostJSON(context.Background(), server.URL+"/api/graphql", map[string]any{"query": "{ shop { name } }"}, map[string]string{"X-Shopify-Storefront-Access-Token": "tok"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)

	assert.Equal(t, http.MethodGet, requests[0].Method)
	assert.Equal(t, "2", requests[0].URL.Query().Get("page"))
	assert.Equal(t, "250", requests[0].URL.Query().Get("limit"))
	assert.NotEmpty(t, requests[0].Header.Get("User-Agent"))

	assert.Equal(t, http.MethodPost, requests[1].Method)
	assert.Equal(t, "application/json", requests[1].Header.Get("Content-Type"))
	assert.Equal(t, "tok", requests[1].Header.Get("X-Shopify-Storefront-Access-Token"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(bodies[1]), &sent))
	assert.Equal(t, "{ shop { name } }", sent["query"])
}

func TestTransport_RequestTimeoutRetriesSameHost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.Write([]byte(`{"products":[]}`))
	}))
	defer server.Close()

	tr := New(Options{
		Policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Timeout: 100 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	res, err := tr.Fetch(context.Background(), server.URL+"/products.json", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransport_CallerDeadlineIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	tr := New(Options{
		Policy: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Fetch(ctx, server.URL+"/products.json", nil)
	require.Error(t, err)
	assert.Equal(t, Fatal, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
}

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailureKind
	}{
		{"go resolver", errors.New("dial tcp: lookup shop.example: no such host"), HostUnreachable},
		{"glibc resolver", errors.New("Name or service not known"), HostUnreachable},
		{"windows resolver", errors.New("getaddrinfo failed"), HostUnreachable},
		{"macos resolver", errors.New("nodename nor servname provided, or not known"), HostUnreachable},
		{"refused", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), HostUnreachable},
		{"reset", errors.New("read: connection reset by peer"), Transient},
		{"eof", io.ErrUnexpectedEOF, Transient},
		{"cancelled", context.Canceled, Fatal},
		{"client timeout", fmt.Errorf("Get \"https://a.example.com/\": %w (Client.Timeout exceeded while awaiting headers)", context.DeadlineExceeded), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyNetworkError(tt.err))
		})
	}
}

func TestHostTable_Candidates(t *testing.T) {
	u, _ := url.Parse("https://A.example.com/x")
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, failoverHosts.Candidates(u))

	other, _ := url.Parse("https://c.example.com/x")
	assert.Equal(t, []string{"c.example.com"}, failoverHosts.Candidates(other))

	var empty HostTable
	assert.Equal(t, []string{"c.example.com"}, empty.Candidates(other))
}
