package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
)

// RealTimeConfig configures the remote lookup service client.
type RealTimeConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RateLimit is lookups per second; 0 means unlimited.
	RateLimit float64
	Burst     int
	// CacheTTL applies when the service does not send its own.
	CacheTTL time.Duration
}

// cacheCapacity bounds remembered verdicts; the least recently used go first.
const cacheCapacity = 10000

// FullHashMatch is a full hash the service reported for a requested prefix.
type FullHashMatch struct {
	FullHash []byte
	Threat   model.ThreatType
}

type urlLookupRequest struct {
	URL string `json:"url"`
}

type urlLookupResponse struct {
	Threat          string `json:"threat"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

type hashSearchRequest struct {
	HashPrefixes []string `json:"hash_prefixes"`
}

type hashSearchResponse struct {
	FullHashes []struct {
		FullHash string `json:"full_hash"`
		Threat   string `json:"threat"`
	} `json:"full_hashes"`
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

// RealTimeClient talks to the remote URL and hash-prefix lookup endpoints.
// It is safe for concurrent use.
type RealTimeClient struct {
	cfg     RealTimeConfig
	resty   *resty.Client
	limiter *rate.Limiter
	group   singleflight.Group
	cache   *ttlcache.Cache[string, any]
	log     *zap.Logger
}

// NewRealTimeClient builds a client for cfg.Endpoint.
func NewRealTimeClient(cfg RealTimeConfig, log *zap.Logger) (*RealTimeClient, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("real-time endpoint %q: %w", cfg.Endpoint, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil

	rc := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "RedirectGuard/1.0").
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if cfg.APIKey != "" {
		rc.SetHeader("X-Api-Key", cfg.APIKey)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &RealTimeClient{
		cfg:     cfg,
		resty:   rc,
		limiter: rate.NewLimiter(limit, burst),
		cache: ttlcache.New(
			ttlcache.WithCapacity[string, any](cacheCapacity),
			ttlcache.WithDisableTouchOnHit[string, any](),
		),
		log: logging.OrNop(log).Named("realtime"),
	}, nil
}

// LookupURL asks the service for a verdict on u.
func (c *RealTimeClient) LookupURL(ctx context.Context, u *url.URL) (model.ThreatType, error) {
	key := "url:" + u.String()
	if v, ok := c.cached(key); ok {
		return v.(model.ThreatType), nil
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		var out urlLookupResponse
		resp, err := c.resty.R().
			SetContext(ctx).
			SetBody(urlLookupRequest{URL: u.String()}).
			SetResult(&out).
			Post("/v1/urls:lookup")
		if err != nil {
			return nil, fmt.Errorf("url lookup: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("url lookup: status %d", resp.StatusCode())
		}
		threat, ok := model.ParseThreatType(out.Threat)
		if !ok {
			c.log.Warn("unknown threat type from service", zap.String("threat", out.Threat))
		}
		c.store(key, threat, out.CacheTTLSeconds)
		return threat, nil
	})
	if err != nil {
		return model.ThreatNone, err
	}
	if shared {
		c.log.Debug("coalesced url lookup", zap.String("url", u.String()))
	}
	return v.(model.ThreatType), nil
}

// SearchHashPrefixes returns the full hashes the service knows for prefixes.
func (c *RealTimeClient) SearchHashPrefixes(ctx context.Context, prefixes [][]byte) ([]FullHashMatch, error) {
	encoded := make([]string, len(prefixes))
	for i, p := range prefixes {
		encoded[i] = base64.StdEncoding.EncodeToString(p)
	}
	sorted := append([]string(nil), encoded...)
	sort.Strings(sorted)
	key := "hash:" + strings.Join(sorted, ",")
	if v, ok := c.cached(key); ok {
		return v.([]FullHashMatch), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		var out hashSearchResponse
		resp, err := c.resty.R().
			SetContext(ctx).
			SetBody(hashSearchRequest{HashPrefixes: encoded}).
			SetResult(&out).
			Post("/v1/hashes:search")
		if err != nil {
			return nil, fmt.Errorf("hash search: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("hash search: status %d", resp.StatusCode())
		}
		matches := make([]FullHashMatch, 0, len(out.FullHashes))
		for _, fh := range out.FullHashes {
			raw, err := base64.StdEncoding.DecodeString(fh.FullHash)
			if err != nil {
				return nil, fmt.Errorf("hash search: decode full hash: %w", err)
			}
			threat, _ := model.ParseThreatType(fh.Threat)
			matches = append(matches, FullHashMatch{FullHash: raw, Threat: threat})
		}
		c.store(key, matches, out.CacheTTLSeconds)
		return matches, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]FullHashMatch), nil
}

func (c *RealTimeClient) cached(key string) (any, bool) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// store caches v for the TTL the service sent, or the configured default.
func (c *RealTimeClient) store(key string, v any, ttlSeconds int) {
	ttl := c.cfg.CacheTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	c.cache.Set(key, v, ttl)
}
