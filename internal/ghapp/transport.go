package ghapp

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const acceptHeader = "application/vnd.github+json"

var (
	rateLimitTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_rate_limit_triggered_total",
			Help: "Times GitHub signalled a rate limit on an outbound call",
		},
		[]string{"status_code", "reason"},
	)

	rateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "github_rate_limit_wait_seconds",
			Help:    "Duration of rate limit pauses in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api
const (
	headerRetryAfter         = "Retry-After"
	headerRateLimitReset     = "X-Ratelimit-Reset"
	headerRateLimitRemaining = "X-Ratelimit-Remaining"
)

// headerTransport stamps the identifying headers GitHub requires onto every
// outbound request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewTransport wraps base with the required GitHub headers and a rate limit
// waiter that pauses outbound traffic when GitHub asks us to back off.
func NewTransport(base http.RoundTripper, userAgent string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerTransport{
		base: &rateLimitWaiter{
			base:              base,
			limiter:           &pausableLimiter{base: rate.NewLimiter(rate.Inf, 100)},
			defaultRetryAfter: time.Minute,
		},
		userAgent: userAgent,
	}
}

// rateLimitWaiter retries a request once after honoring a secondary rate
// limit response (403/429 with Retry-After or reset headers).
type rateLimitWaiter struct {
	base              http.RoundTripper
	limiter           *pausableLimiter
	defaultRetryAfter time.Duration
}

func (w *rateLimitWaiter) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := w.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	resp, err := w.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if w.pauseForLimit(req, resp) {
		return w.RoundTrip(req)
	}
	return resp, nil
}

// pauseForLimit inspects a response for rate limit signals. It returns true,
// after scheduling a pause, when the request should be retried.
func (w *rateLimitWaiter) pauseForLimit(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}

	log := clog.FromContext(req.Context())
	statusCode := strconv.Itoa(resp.StatusCode)

	if v := resp.Header.Get(headerRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			d := time.Duration(seconds) * time.Second
			log.Warnf("rate limited on %s, retrying after %v", req.URL, d)
			rateLimitTriggered.WithLabelValues(statusCode, "retry_after").Inc()
			rateLimitWaitSeconds.Observe(d.Seconds())
			w.limiter.PauseFor(d)
			return true
		}
	}

	remaining := resp.Header.Get(headerRateLimitRemaining)
	if v := resp.Header.Get(headerRateLimitReset); v != "" && remaining == "0" {
		if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
			d := time.Until(time.Unix(seconds, 0))
			if d > 0 {
				log.Warnf("rate limit exhausted on %s, waiting for reset in %v", req.URL, d)
				rateLimitTriggered.WithLabelValues(statusCode, "remaining_zero").Inc()
				rateLimitWaitSeconds.Observe(d.Seconds())
				w.limiter.PauseFor(d)
				return true
			}
		}
	}

	// 403s without rate limit headers are genuine permission errors; let
	// them through for the caller to handle.
	return false
}

// pausableLimiter gates requests behind a shared pause window.
type pausableLimiter struct {
	base       *rate.Limiter
	mu         sync.Mutex
	pauseUntil time.Time
	pauseCh    chan struct{}
}

func (l *pausableLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	pauseCh := l.pauseCh
	l.mu.Unlock()

	if pauseCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pauseCh:
		}
	}
	return l.base.Wait(ctx)
}

func (l *pausableLimiter) PauseFor(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)

	if until.After(l.pauseUntil) {
		l.pauseUntil = until
		if l.pauseCh != nil {
			close(l.pauseCh)
		}
		ch := make(chan struct{})
		l.pauseCh = ch

		go func() {
			timer := time.NewTimer(d)
			defer timer.Stop()
			<-timer.C

			l.mu.Lock()
			if ch == l.pauseCh {
				close(ch)
				l.pauseCh = nil
				l.pauseUntil = time.Time{}
			}
			l.mu.Unlock()
		}()
	}
}
