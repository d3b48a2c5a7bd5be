// Package httpclient builds the HTTP client loads are fetched with. Redirects
// are never followed automatically: every hop has to pass the load gate.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
)

// Config holds settings for the HTTP client.
type Config struct {
	Timeout   time.Duration
	Proxy     func(*http.Request) (*url.URL, error)
	Headers   http.Header
	Cookie    string
	UserAgent string
	Insecure  bool
	Retries   int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
}

// headerRoundTripper injects headers and cookies and retries transport
// errors and 5xx responses.
type headerRoundTripper struct {
	base      http.RoundTripper
	headers   http.Header
	cookie    string
	userAgent string
	retries   int
	waitMin   time.Duration
	waitMax   time.Duration
	log       *zap.Logger
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		// Clone so retries never see a mutated request.
		r := req.Clone(req.Context())
		if req.Body != nil {
			if req.GetBody != nil {
				if body, berr := req.GetBody(); berr == nil {
					r.Body = body
				}
			} else {
				r.Body = req.Body
			}
		}

		for k, vs := range h.headers {
			r.Header.Del(k)
			for _, v := range vs {
				r.Header.Add(k, v)
			}
		}
		if h.cookie != "" {
			r.Header.Set("Cookie", h.cookie)
		}
		if h.userAgent != "" && r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", h.userAgent)
		}

		resp, err = h.base.RoundTrip(r)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if attempt >= h.retries {
			return resp, err
		}

		wait := retryablehttp.DefaultBackoff(h.waitMin, h.waitMax, attempt, resp)
		if resp != nil {
			_ = resp.Body.Close()
		}
		h.log.Debug("retrying request",
			zap.String("url", req.URL.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			t.Stop()
			return nil, req.Context().Err()
		case <-t.C:
		}
	}
}

// New returns a configured HTTP client with manual redirect handling.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy:           cfg.Proxy,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}
	waitMin, waitMax := cfg.RetryWaitMin, cfg.RetryWaitMax
	if waitMin <= 0 {
		waitMin = 100 * time.Millisecond
	}
	if waitMax < waitMin {
		waitMax = 2 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "RedirectGuard/1.0"
	}

	return &http.Client{
		Transport: &headerRoundTripper{
			base:      transport,
			headers:   cfg.Headers,
			cookie:    cfg.Cookie,
			userAgent: ua,
			retries:   cfg.Retries,
			waitMin:   waitMin,
			waitMax:   waitMax,
			log:       logging.OrNop(cfg.Logger).Named("http"),
		},
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
