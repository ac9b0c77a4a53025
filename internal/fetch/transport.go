package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maltedev/inventory-harvester/internal/metrics"
	"github.com/maltedev/inventory-harvester/internal/ratelimit"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Result is a successful response together with the host that served it.
type Result struct {
	URL        string
	Host       string
	StatusCode int
	Attempts   int
	Header     http.Header
	Body       []byte
}

func (r *Result) Text() string {
	return string(r.Body)
}

func (r *Result) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", r.URL, err)
	}
	return nil
}

// Request describes one logical call. Method defaults to GET.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Headers map[string]string
	Body    any
}

type Options struct {
	Policy     RetryPolicy
	Hosts      HostTable
	Timeout    time.Duration
	UserAgent  string
	Limiter    ratelimit.Limiter
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Transport issues requests with host failover and exponential backoff.
// It is safe for concurrent use.
type Transport struct {
	client  *resty.Client
	policy  RetryPolicy
	hosts   HostTable
	limiter ratelimit.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Transport {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	// retries are driven by Transport itself
	client.SetRetryCount(0).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua)

	policy := opts.Policy
	if policy.MaxAttempts == 0 && policy.BaseDelay == 0 && len(policy.TransientStatusCodes) == 0 {
		policy = DefaultRetryPolicy()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		client:  client,
		policy:  policy,
		hosts:   opts.Hosts,
		limiter: opts.Limiter,
		logger:  logger.With("component", "transport"),
		sleep:   sleepContext,
	}
}

func (t *Transport) Policy() RetryPolicy {
	return t.policy
}

// Fetch GETs logicalURL with params.
func (t *Transport) Fetch(ctx context.Context, logicalURL string, params url.Values) (*Result, error) {
	return t.Do(ctx, Request{Method: http.MethodGet, URL: logicalURL, Params: params})
}

// PostJSON POSTs body as JSON, used for GraphQL endpoints.
func (t *Transport) PostJSON(ctx context.Context, logicalURL string, body any, headers map[string]string) (*Result, error) {
	h := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return t.Do(ctx, Request{Method: http.MethodPost, URL: logicalURL, Headers: h, Body: body})
}

// Do runs req against every host candidate in order. Transient statuses and
// unclassified network errors are retried on the same host with backoff; a
// resolver-level failure moves to the next candidate without sleeping; any
// other non-2xx status is fatal at once.
func (t *Transport) Do(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &FetchError{Kind: Fatal, URL: req.URL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	candidates := t.hosts.Candidates(u)
	if len(candidates) == 0 {
		return nil, &FetchError{Kind: Fatal, URL: req.URL, Err: ErrNoHosts}
	}

	var (
		lastErr    error
		lastStatus int
		lastHost   string
		lastKind   FailureKind
		total      int
	)

	for hostIdx, host := range candidates {
		target := *u
		target.Host = host
		lastHost = host

		if hostIdx > 0 {
			metrics.FetchHostSwitches.Inc()
			t.logger.Warn("switching host",
				"url", req.URL,
				"from", candidates[hostIdx-1],
				"to", host,
				"error", lastErr)
		}

	attempts:
		for attempt := 0; attempt < t.policy.attempts(); attempt++ {
			total++

			res, status, err := t.attempt(ctx, req, &target)
			if err == nil {
				metrics.FetchAttempts.WithLabelValues(host, "ok").Inc()
				t.recordSuccess(host)
				res.Attempts = total
				return res, nil
			}

			kind := classify(ctx, status, err, t.policy)
			if kind == Transient && status != 0 {
				err = fmt.Errorf("%w: status %d", ErrTransientStatus, status)
			}
			lastErr = err
			lastStatus = status
			lastKind = kind

			metrics.FetchAttempts.WithLabelValues(host, kind.String()).Inc()

			switch kind {
			case Fatal:
				metrics.FetchFailures.WithLabelValues(Fatal.String()).Inc()
				return nil, &FetchError{Kind: Fatal, URL: req.URL, Host: host, StatusCode: status, Attempts: total, Err: err}
			case HostUnreachable:
				t.logger.Warn("host unreachable",
					"url", req.URL,
					"host", host,
					"attempt", attempt+1,
					"error", err)
				break attempts
			}

			if status == http.StatusTooManyRequests {
				t.recordThrottled(host)
			}

			if attempt+1 >= t.policy.attempts() {
				break
			}

			delay := t.policy.Delay(attempt)
			t.logger.Info("retrying after backoff",
				"url", req.URL,
				"host", host,
				"attempt", attempt+1,
				"status", status,
				"delay", delay,
				"error", err)

			if err := t.sleep(ctx, delay); err != nil {
				metrics.FetchFailures.WithLabelValues(Fatal.String()).Inc()
				return nil, &FetchError{Kind: Fatal, URL: req.URL, Host: host, StatusCode: status, Attempts: total, Err: err}
			}
		}
	}

	if lastKind == HostUnreachable {
		lastErr = fmt.Errorf("%w: %w", ErrHostUnreachable, lastErr)
	}

	metrics.FetchFailures.WithLabelValues(Fatal.String()).Inc()
	t.logger.Error("all hosts and attempts exhausted",
		"url", req.URL,
		"hosts", len(candidates),
		"attempts", total,
		"error", lastErr)

	return nil, &FetchError{Kind: Fatal, URL: req.URL, Host: lastHost, StatusCode: lastStatus, Attempts: total, Err: lastErr}
}

// attempt issues one HTTP request. A nil error means a 2xx response.
func (t *Transport) attempt(ctx context.Context, req Request, target *url.URL) (*Result, int, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, target.Host); err != nil {
			return nil, 0, fmt.Errorf("rate limiter: %w", err)
		}
	}

	r := t.client.R().SetContext(ctx)
	if len(req.Params) > 0 {
		r.SetQueryParamsFromValues(req.Params)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	start := time.Now()
	res, err := r.Execute(req.Method, target.String())
	metrics.FetchDuration.WithLabelValues(target.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, err
	}

	status := res.StatusCode()
	if status < 200 || status >= 300 {
		return nil, status, statusError(status)
	}

	return &Result{
		URL:        target.String(),
		Host:       target.Host,
		StatusCode: status,
		Header:     res.Header(),
		Body:       res.Body(),
	}, status, nil
}

func statusError(status int) error {
	switch status {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w: status %d", ErrUnexpectedStatus, ErrBlocked, status)
	default:
		return fmt.Errorf("%w: status %d", ErrUnexpectedStatus, status)
	}
}

func classify(ctx context.Context, status int, err error, policy RetryPolicy) FailureKind {
	if status != 0 {
		if policy.IsTransient(status) {
			return Transient
		}
		return Fatal
	}
	if ctx.Err() != nil {
		return Fatal
	}
	return classifyNetworkError(err)
}

func (t *Transport) recordSuccess(host string) {
	if fb, ok := t.limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess(host)
	}
}

func (t *Transport) recordThrottled(host string) {
	if fb, ok := t.limiter.(ratelimit.Feedback); ok {
		fb.RecordThrottled(host)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
