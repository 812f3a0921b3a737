// Package fetch is the shared HTTP client for the catalog and image hosts.
// One Client serves a whole run and is safe for concurrent use.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tom-jm69/cs-medal-parser/pkg/fn"
	"github.com/tom-jm69/cs-medal-parser/pkg/metrics"
	"github.com/tom-jm69/cs-medal-parser/pkg/resilience"
)

// Options configures a Client. Zero values take the defaults noted.
type Options struct {
	Timeout        time.Duration // per request, default 30s
	MaxRetries     int           // retries after the first attempt; negative means 0
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
	UserAgent      string
	MaxBodyBytes   int64 // image body limit; 0 means unlimited

	RateLimit float64 // image requests per second; 0 means unlimited
	Burst     int

	BreakerThreshold int // consecutive transient image failures that trip; 0 disables
	BreakerCooldown  time.Duration

	PoolSize int // idle connections kept per host, default 20

	Metrics *metrics.Registry
}

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "cs-medal-parser/1.0"

// Client issues GETs with timeout, retry and backoff.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger

	breakerOpen *metrics.Gauge
	retries     *metrics.Counter
	requests    func(kind, outcome string) *metrics.Counter
	latency     func(kind string) *metrics.Histogram
}

// New builds a Client with a pooled, traced transport.
func New(opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 20
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.PoolSize * 2,
		MaxIdleConnsPerHost: opts.PoolSize,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		opts: opts,
		log:  log,
	}
	c.instrument(opts.Metrics)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.BreakerThreshold > 0 {
		c.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			Threshold: opts.BreakerThreshold,
			Cooldown:  opts.BreakerCooldown,
			Counts:    IsTransient,
			OnTransition: func(from, to resilience.State) {
				log.Warn("image host breaker", "from", from.String(), "to", to.String())
				c.breakerOpen.Set(boolGauge(to != resilience.Closed))
			},
		})
	}
	return c
}

func (c *Client) instrument(reg *metrics.Registry) {
	if reg == nil {
		reg = metrics.New()
	}
	c.breakerOpen = reg.Gauge("medalparser_fetch_breaker_open", "1 while the image host breaker refuses or probes calls.")
	c.retries = reg.Counter("medalparser_fetch_retries_total", "HTTP attempts repeated after a transient failure.")
	c.requests = func(kind, outcome string) *metrics.Counter {
		return reg.Counter(metrics.WithLabels("medalparser_fetch_requests_total", "kind", kind, "outcome", outcome),
			"Completed fetches by kind and outcome.")
	}
	c.latency = func(kind string) *metrics.Histogram {
		return reg.Histogram(metrics.WithLabels("medalparser_fetch_duration_seconds", "kind", kind),
			"Fetch latency including retries.", nil)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// FetchCatalog downloads the catalog document. The body is not size limited
// and the image rate limit and breaker do not apply.
func (c *Client) FetchCatalog(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, "catalog", url, 0).Unwrap()
}

// FetchBytes downloads one image, honouring the rate limit, the body limit
// and the host circuit breaker.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if c.breaker == nil {
		return c.get(ctx, "image", url, c.opts.MaxBodyBytes).Unwrap()
	}
	r := resilience.Do(ctx, c.breaker, func(ctx context.Context) fn.Result[[]byte] {
		return c.get(ctx, "image", url, c.opts.MaxBodyBytes)
	})
	data, err := r.Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &FetchError{URL: url, Err: err}
	}
	return data, err
}

func (c *Client) get(ctx context.Context, kind, url string, limit int64) fn.Result[[]byte] {
	start := time.Now()
	attempts := 0
	opts := fn.RetryOpts{
		MaxAttempts: 1 + c.opts.MaxRetries,
		InitialWait: c.opts.InitialBackoff,
		MaxWait:     c.opts.MaxBackoff,
		Retryable:   IsTransient,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.retries.Inc()
			c.log.Debug("retrying request", "kind", kind, "url", url, "attempt", attempt, "wait", wait, "error", err)
		},
	}
	r := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[[]byte] {
		attempts++
		if kind == "image" && c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fn.Err[[]byte](&FetchError{URL: url, Err: err})
			}
		}
		return fn.FromPair(c.once(ctx, url, limit))
	})
	c.latency(kind).Since(start)

	data, err := r.Unwrap()
	if err != nil {
		c.requests(kind, "error").Inc()
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{URL: url, Err: err}
		}
		fe.Attempts = attempts
		return fn.Err[[]byte](fe)
	}
	c.requests(kind, "ok").Inc()
	return fn.Ok(data)
}

func (c *Client) once(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, statusError(url, resp)
	}

	body := io.Reader(resp.Body)
	if limit > 0 {
		if resp.ContentLength > limit {
			return nil, &FetchError{URL: url, Err: fmt.Errorf("%w: %d > %d bytes", ErrBodyTooLarge, resp.ContentLength, limit)}
		}
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, transportError(url, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)}
	}
	return data, nil
}
