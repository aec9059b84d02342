package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/muni-enrich/internal/resilience"
)

// Observer is told about every outbound attempt; outcome is "ok", "retryable" or "failed".
type Observer interface {
	UpstreamResult(service, outcome string)
}

// HTTPOptions configures the fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// Policies holds the pacing and retry policy per service name. Services
	// without an entry get DefaultPolicy.
	Policies map[string]resilience.Policy

	// HostRate caps requests per second to any single host, on top of the
	// per-service interval. Default: 2.
	HostRate rate.Limit

	Clock    clockwork.Clock
	Client   *http.Client
	Observer Observer
}

// DefaultPolicy applies to services with no registered policy.
func DefaultPolicy() resilience.Policy {
	return resilience.Policy{Retry: resilience.DefaultRetryConfig()}
}

// RateLimited implements Getter over net/http. It keeps per-service call
// timestamps and is meant for one goroutine.
type RateLimited struct {
	client   *http.Client
	opts     HTTPOptions
	clock    clockwork.Clock
	gates    map[string]*gate
	limiters map[string]*rate.Limiter
}

// NewRateLimited creates a fetcher with the given options.
func NewRateLimited(opts HTTPOptions) *RateLimited {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "muni-enrich/1.0"
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &RateLimited{
		client:   client,
		opts:     opts,
		clock:    opts.Clock,
		gates:    make(map[string]*gate),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *RateLimited) policyFor(service string) resilience.Policy {
	if p, ok := f.opts.Policies[service]; ok {
		return p
	}
	return DefaultPolicy()
}

func (f *RateLimited) gateFor(service string) *gate {
	g, ok := f.gates[service]
	if !ok {
		g = &gate{interval: f.policyFor(service).MinInterval, clock: f.clock}
		f.gates[service] = g
	}
	return g
}

func (f *RateLimited) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.HostRate, 1)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch implements Getter.
func (f *RateLimited) Fetch(ctx context.Context, service, rawURL string, decode func(body []byte) error) error {
	retry := f.policyFor(service).Retry
	if retry.Clock == nil {
		retry.Clock = f.clock
	}

	err := resilience.Do(ctx, service, retry, func(ctx context.Context) error {
		err := f.attempt(ctx, service, rawURL, decode)
		switch {
		case err == nil:
			f.observe(service, "ok")
		case resilience.IsTransient(err):
			f.observe(service, "retryable")
		default:
			f.observe(service, "failed")
		}
		return err
	})
	if err != nil {
		return eris.Wrapf(err, "fetch %s", service)
	}
	return nil
}

func (f *RateLimited) attempt(ctx context.Context, service, rawURL string, decode func([]byte) error) error {
	if err := f.gateFor(service).wait(ctx); err != nil {
		return eris.Wrap(err, "interval wait")
	}
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	zap.L().Debug("http get", zap.String("service", service), zap.String("url", rawURL))
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(err, "request cancelled")
		}
		return resilience.NewServiceError(service, eris.Wrap(err, "request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.RetryableStatus(resp.StatusCode) {
		return resilience.NewServiceError(service, eris.Errorf("http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("%s: unexpected status %d from %s", service, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewServiceError(service, eris.Wrap(err, "read body"), resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return resilience.NewServiceError(service, eris.New("empty body"), resp.StatusCode)
	}
	if err := decode(body); err != nil {
		return resilience.NewServiceError(service, eris.Wrap(err, "malformed response"), resp.StatusCode)
	}
	return nil
}

func (f *RateLimited) observe(service, outcome string) {
	if f.opts.Observer != nil {
		f.opts.Observer.UpstreamResult(service, outcome)
	}
}

// gate enforces a minimum interval between the starts of consecutive calls.
type gate struct {
	interval time.Duration
	clock    clockwork.Clock
	last     time.Time
}

func (g *gate) wait(ctx context.Context) error {
	if g.interval > 0 && !g.last.IsZero() {
		if d := g.interval - g.clock.Since(g.last); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-g.clock.After(d):
			}
		}
	}
	g.last = g.clock.Now()
	return nil
}
