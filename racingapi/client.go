// Package racingapi is a rate-limited client for the Racing API.
package racingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	dateLayout = "2006-01-02"
	pageLimit  = 50
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("racing api %s: http %d: %s", e.Path, e.Status, e.Body)
}

// IsRateLimited reports whether err is a 429 that exhausted its own budget.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests
}

// IsTransient reports whether retrying the same request may succeed.
// A 429 is not transient here: fetch has already spent its own budget on it.
// Neither is ErrUnavailable, which concerns the endpoint rather than the request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Options configures a Client. Zero values fall back to the defaults the
// Racing API plan allows.
type Options struct {
	BaseURL     string
	Username    string
	Password    string
	RPS         float64
	MaxAttempts int
	Timeout     time.Duration

	// RateLimitAttempts bounds how many 429s a single request tolerates.
	// They are not charged to MaxAttempts.
	RateLimitAttempts int
	MaxRetryAfter     time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BreakerFailures consecutive transient failures open an endpoint's
	// breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
	// OnRequest is called once per HTTP round trip with the status code
	// (0 for transport errors).
	OnRequest func(endpoint string, status int)
}

// Client fetches results and entity details. It is safe for concurrent use;
// all requests share one limiter and each endpoint has its own breaker.
type Client struct {
	baseURL  string
	username string
	password string

	http    *http.Client
	limiter *rate.Limiter
	results *breaker
	horse   *breaker
	log     *zap.Logger

	maxAttempts       uint
	rateLimitAttempts int
	maxRetryAfter     time.Duration
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	onRequest         func(string, int)
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimitAttempts <= 0 {
		opts.RateLimitAttempts = 10
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = 2 * time.Minute
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 10
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger.Named("racingapi")

	return &Client{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		username:          opts.Username,
		password:          opts.Password,
		http:              hc,
		limiter:           rate.NewLimiter(rate.Limit(opts.RPS), 1),
		results:           newBreaker("results", opts.BreakerFailures, opts.BreakerTimeout, log),
		horse:             newBreaker("horse", opts.BreakerFailures, opts.BreakerTimeout, log),
		log:               log,
		maxAttempts:       uint(opts.MaxAttempts),
		rateLimitAttempts: opts.RateLimitAttempts,
		maxRetryAfter:     opts.MaxRetryAfter,
		initialBackoff:    opts.InitialBackoff,
		maxBackoff:        opts.MaxBackoff,
		onRequest:         opts.OnRequest,
	}
}

// Results returns every race result for one calendar day, draining all pages.
// While the results breaker is open it waits for the trial request rather
// than failing, so an error always describes the day itself.
func (c *Client) Results(ctx context.Context, day time.Time) ([]Result, error) {
	date := day.Format(dateLayout)
	var out []Result
	for skip := 0; ; {
		q := url.Values{}
		q.Set("start_date", date)
		q.Set("end_date", date)
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("skip", strconv.Itoa(skip))

		var page resultsPage
		if err := c.get(ctx, c.results, true, "/v1/results", q, &page); err != nil {
			return nil, fmt.Errorf("results %s skip %d: %w", date, skip, err)
		}
		out = append(out, page.Results...)
		skip += len(page.Results)

		c.log.Debug("results page",
			zap.String("date", date), zap.Int("got", len(page.Results)),
			zap.Int("skip", skip), zap.Int("total", page.Total))

		if len(page.Results) == 0 || skip >= page.Total {
			return out, nil
		}
	}
}

// Horse returns enrichment details for one horse. It fails fast with
// ErrUnavailable while the horse breaker is open.
func (c *Client) Horse(ctx context.Context, id string) (*HorseDetail, error) {
	var hd HorseDetail
	if err := c.get(ctx, c.horse, false, "/v1/horses/"+url.PathEscape(id)+"/pro", nil, &hd); err != nil {
		return nil, fmt.Errorf("horse %s: %w", id, err)
	}
	return &hd, nil
}

// get retries transient failures of one request. The returned error carries
// the number of HTTP round trips spent on it.
func (c *Client) get(ctx context.Context, br *breaker, wait bool, path string, q url.Values, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff

	var requests int
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		body, err := br.execute(ctx, wait, func() ([]byte, error) {
			return c.fetch(ctx, br.name, path, q, &requests)
		})
		if err != nil && (ctx.Err() != nil || !IsTransient(err)) {
			return nil, backoff.Permanent(err)
		}
		return body, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("retrying request", zap.String("path", path), zap.Duration("in", next), zap.Error(err))
		}),
	)
	if err != nil {
		if requests > 0 {
			return fmt.Errorf("%w (%d requests)", err, requests)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// fetch performs one logical request. 429 responses are retried here,
// honouring Retry-After, up to rateLimitAttempts.
func (c *Client) fetch(ctx context.Context, endpoint, path string, q url.Values, requests *int) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "dhworkers/1.0")

		*requests++
		resp, err := c.http.Do(req)
		if err != nil {
			c.observe(endpoint, 0)
			return nil, err
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.observe(endpoint, resp.StatusCode)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= c.rateLimitAttempts {
				return nil, &APIError{Status: resp.StatusCode, Path: path, Body: "rate limit retries exhausted"}
			}
			wait := c.retryAfter(resp.Header.Get("Retry-After"), attempt)
			c.log.Warn("rate limited", zap.String("path", path), zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, &APIError{Status: resp.StatusCode, Path: path, Body: truncate(string(raw), 512)}
		default:
			return raw, nil
		}
	}
}

func (c *Client) retryAfter(header string, attempt int) time.Duration {
	wait := time.Duration(2*attempt) * time.Second
	if header = strings.TrimSpace(header); header != "" {
		if secs, err := strconv.Atoi(header); err == nil {
			wait = time.Duration(secs) * time.Second
		} else if when, err := http.ParseTime(header); err == nil {
			wait = time.Until(when)
		}
	}
	if wait < 0 {
		wait = 0
	}
	if wait > c.maxRetryAfter {
		wait = c.maxRetryAfter
	}
	return wait
}

func (c *Client) observe(endpoint string, status int) {
	if c.onRequest != nil {
		c.onRequest(endpoint, status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
