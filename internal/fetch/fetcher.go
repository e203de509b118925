package fetch

import (
	"context"
	"go-poll/internal/ratelimit"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

const maxBodySize = 10 << 20

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
	"DNT":                       "1",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

type Acquirer interface {
	Acquire(ctx context.Context) error
}

type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	RateLimitPause time.Duration
	UserAgents     []string
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxRetries:     3,
		RateLimitPause: 60 * time.Second,
		UserAgents:     DefaultUserAgents,
	}
}

// Fetcher retrieves pages through the shared limiter with bounded retries.
type Fetcher struct {
	client  *http.Client
	limiter Acquirer
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(limiter Acquirer, opts Options) *Fetcher {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RateLimitPause < 0 {
		opts.RateLimitPause = 0
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaults.UserAgents
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	transport.ResponseHeaderTimeout = opts.ReadTimeout

	return &Fetcher{
		client:  &http.Client{Transport: transport},
		limiter: limiter,
		opts:    opts,
		sleep:   ratelimit.Sleep,
	}
}

type attemptResult struct {
	body        []byte
	err         error
	rateLimited bool
}

// Fetch returns the body of the first successful response for target.
// The limiter is consulted once before the first attempt.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, errors.Wrap(err, "failed waiting for request slot")
	}

	userAgent := f.opts.UserAgents[rand.IntN(len(f.opts.UserAgents))]
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		result := f.attempt(ctx, target, userAgent)
		if result.err == nil {
			return result.body, nil
		}
		lastErr = result.err
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "fetch cancelled")
		}

		log.WithFields(log.Fields{
			"error":   result.err,
			"target":  target,
			"attempt": attempt,
			"kind":    Kind(result.err),
		}).Warn("Request attempt failed")

		if attempt == f.opts.MaxRetries {
			break
		}
		wait := backoff(attempt)
		if result.rateLimited {
			wait += f.opts.RateLimitPause
		}
		if err := f.sleep(ctx, wait); err != nil {
			return nil, errors.Wrap(err, "fetch cancelled during backoff")
		}
	}
	return nil, errors.Wrapf(lastErr, "all %d attempts failed for %s", f.opts.MaxRetries, target)
}

func (f *Fetcher) attempt(ctx context.Context, target, userAgent string) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ConnectTimeout+f.opts.ReadTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return attemptResult{err: errors.Mark(errors.Wrap(err, "invalid target url"), ErrTargetRejected)}
	}
	for name, value := range browserHeaders {
		request.Header.Set(name, value)
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := f.client.Do(request)
	if err != nil {
		return attemptResult{err: errors.Mark(errors.Wrap(err, "request failed"), ErrTargetUnreachable)}
	}
	defer response.Body.Close()

	status := response.StatusCode
	switch {
	case status >= 200 && status < 300:
		body, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
		if err != nil {
			return attemptResult{err: errors.Mark(errors.Wrap(err, "failed reading response body"), ErrTargetUnreachable)}
		}
		return attemptResult{body: body}
	case status == http.StatusNotFound:
		return attemptResult{err: errors.Mark(errors.New("not found - invalid search criteria or listing removed"), ErrTargetRejected)}
	case status == http.StatusTooManyRequests:
		return attemptResult{err: errors.Mark(errors.New("too many requests"), ErrRateLimited), rateLimited: true}
	case status == http.StatusForbidden:
		return attemptResult{err: errors.Mark(errors.New("access forbidden - possible block"), ErrTargetRejected)}
	case status >= 500:
		return attemptResult{err: errors.Mark(errors.Newf("server error %d", status), ErrTargetUnreachable)}
	default:
		return attemptResult{err: errors.Mark(errors.Newf("unexpected status %d", status), ErrTargetRejected)}
	}
}

// backoff is the wait after the given failed attempt: 1s, 2s, 4s, ...
func backoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// ResolveURL joins relative targets to base. Absolute http(s) targets are returned unchanged.
func ResolveURL(base, target string) (string, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return "", errors.Mark(errors.Newf("invalid base url %q", base), ErrTargetRejected)
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	reference, err := url.Parse(strings.TrimPrefix(target, "/"))
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "invalid target %q", target), ErrTargetRejected)
	}
	return baseURL.ResolveReference(reference).String(), nil
}

// ResolveReference resolves href as a link found on the page at pageURL. Unparseable links
// are returned unchanged.
func ResolveReference(pageURL, href string) string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	reference, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return page.ResolveReference(reference).String()
}
