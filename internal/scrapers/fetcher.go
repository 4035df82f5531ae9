package scrapers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	ec "github.com/eventscope/eventscope/pkgs/errors"
	"github.com/eventscope/eventscope/pkgs/utils"
	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxAttempts  = 3
	MaxBodySize         = 10 << 20

	robotsTTL         = time.Hour
	robotsNegativeTTL = time.Minute

	backoffBase   = time.Second
	backoffFactor = 2
	backoffJitter = 0.25
)

// FetchOptions tunes one Fetch call. Zero values fall back to the
// fetcher's defaults.
type FetchOptions struct {
	Headers       map[string]string
	RateLimit     time.Duration
	UserAgent     string
	RespectRobots bool
}

// Fetcher retrieves URLs with per-host spacing, bounded retries and an
// optional robots.txt policy check. Safe for concurrent use.
type Fetcher struct {
	client        *http.Client
	timeout       time.Duration
	maxAttempts   int
	userAgent     string
	respectRobots bool
	logger        zerolog.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	limiter *rate.Limiter

	robotsMu      sync.Mutex
	robots        *robotstxt.RobotsData
	robotsFetched time.Time
	robotsFailed  bool
}

type FetcherOption func(*Fetcher)

func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) { f.maxAttempts = n }
}

func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

func WithRespectRobots(on bool) FetcherOption {
	return func(f *Fetcher) { f.respectRobots = on }
}

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func NewFetcher(logger zerolog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		timeout:     DefaultFetchTimeout,
		maxAttempts: DefaultMaxAttempts,
		userAgent:   DefaultUserAgent,
		logger:      logger,
		hosts:       make(map[string]*hostState),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return f
}

// Fetch returns the response body for rawURL or a categorized error.
// The wait for the per-host slot and the retry sleeps both honor ctx.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts FetchOptions) ([]byte, *ec.Error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, ec.ErrBadRequest.Clone().
			WithDetails(fmt.Sprintf("invalid url: %s", rawURL)).
			Warp(err)
	}

	ua := utils.DefaultIfZero(opts.UserAgent, f.userAgent)
	hs := f.host(u.Hostname())

	if f.respectRobots || opts.RespectRobots {
		group, rerr := f.robotsGroup(ctx, hs, u, ua)
		if rerr == nil && group != nil {
			if !group.Test(u.Path) {
				return nil, ec.ErrDisallowedByRobots.Clone().
					WithDetails(fmt.Sprintf("url: %s", rawURL))
			}
			if group.CrawlDelay > opts.RateLimit {
				opts.RateLimit = group.CrawlDelay
			}
		}
	}

	f.reserve(hs, opts.RateLimit)

	var lastErr *ec.Error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		if err := hs.limiter.Wait(ctx); err != nil {
			return nil, ec.ErrCancelled.Clone().Warp(err)
		}

		body, ferr := f.fetchOnce(ctx, rawURL, ua, opts.Headers)
		if ferr == nil {
			return body, nil
		}
		lastErr = ferr
		if errors.Is(ferr, ec.ErrCancelled) || !ferr.Retryable() {
			return nil, ferr
		}
		f.logger.Warn().
			Str("url", rawURL).
			Int("attempt", attempt+1).
			Err(ferr).
			Msg("fetch attempt failed")
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, ua string, headers map[string]string) ([]byte, *ec.Error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, ec.ErrBadRequest.Clone().Warp(err)
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ec.ErrCancelled.Clone().Warp(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ec.ErrFetchTimeout.Clone().
				WithDetails(fmt.Sprintf("url: %s", rawURL)).Warp(err)
		}
		return nil, ec.ErrFetchNetwork.Clone().
			WithDetails(fmt.Sprintf("url: %s", rawURL)).Warp(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := ec.NewWithHTTPStatus(ec.ECTooManyRequests, http.StatusTooManyRequests, "rate limited by upstream")
		if after := retryAfter(resp); after > 0 {
			e = e.WithDetails(strconv.Itoa(int(after.Seconds())))
		}
		return nil, e
	case resp.StatusCode >= 500:
		return nil, ec.ErrFetchHTTP5xx.Clone().
			WithDetails(fmt.Sprintf("status: %d, url: %s", resp.StatusCode, rawURL))
	case resp.StatusCode >= 400:
		return nil, ec.ErrFetchHTTP4xx.Clone().
			WithDetails(fmt.Sprintf("status: %d, url: %s", resp.StatusCode, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ec.ErrCancelled.Clone().Warp(ctx.Err())
		}
		return nil, ec.ErrFetchNetwork.Clone().Warp(err)
	}
	return body, nil
}

// host returns the state for a hostname, creating it on first use.
func (f *Fetcher) host(hostname string) *hostState {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs, ok := f.hosts[hostname]
	if !ok {
		hs = &hostState{limiter: rate.NewLimiter(rate.Inf, 1)}
		f.hosts[hostname] = hs
	}
	return hs
}

// reserve tightens the host limiter to the requested spacing. Limits only
// ever get stricter within a host so concurrent sources with different
// delays keep the largest one.
func (f *Fetcher) reserve(hs *hostState, spacing time.Duration) {
	if spacing <= 0 {
		return
	}
	want := rate.Every(spacing)
	f.mu.Lock()
	defer f.mu.Unlock()
	if hs.limiter.Limit() == rate.Inf || want < hs.limiter.Limit() {
		hs.limiter.SetLimit(want)
	}
}

// robotsGroup returns the robots.txt group for ua, fetching and caching
// the file per host (1h TTL, 1m negative TTL on fetch failure).
func (f *Fetcher) robotsGroup(ctx context.Context, hs *hostState, u *url.URL, ua string) (*robotstxt.Group, error) {
	hs.robotsMu.Lock()
	defer hs.robotsMu.Unlock()

	ttl := utils.IfElse(hs.robotsFailed, robotsNegativeTTL, robotsTTL)
	if hs.robots != nil || hs.robotsFailed {
		if time.Since(hs.robotsFetched) < ttl {
			if hs.robots == nil {
				return nil, nil
			}
			return hs.robots.FindGroup(ua), nil
		}
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)

	resp, err := f.client.Do(req)
	if err != nil {
		hs.robotsFailed = true
		hs.robots = nil
		hs.robotsFetched = time.Now()
		f.logger.Debug().Str("url", robotsURL).Err(err).Msg("robots.txt fetch failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		hs.robotsFailed = true
		hs.robots = nil
		hs.robotsFetched = time.Now()
		return nil, err
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		hs.robotsFailed = true
		hs.robots = nil
		hs.robotsFetched = time.Now()
		return nil, err
	}

	hs.robots = data
	hs.robotsFailed = false
	hs.robotsFetched = time.Now()
	return data.FindGroup(ua), nil
}

// backoff returns the sleep before the given attempt: exponential from
// 1s with ±25% jitter, or the upstream Retry-After when one was sent.
func (f *Fetcher) backoff(attempt int, last *ec.Error) time.Duration {
	if last != nil && last.InternalStatusCode == ec.ECTooManyRequests && len(last.Details) > 0 {
		if secs, err := strconv.Atoi(last.Details[0]); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	d := float64(backoffBase)
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(d * jitter)
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) *ec.Error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ec.ErrCancelled.Clone().Warp(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		return time.Until(at)
	}
	return 0
}
