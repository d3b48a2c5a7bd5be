package safebrowsing

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/sequence"
)

// CheckerConfig holds the per-chain capabilities handed to the oracle.
type CheckerConfig struct {
	RealTimeLookupEnabled        bool
	HashRealTimeLookupEnabled    bool
	AllowSubresourceCheck        bool
	AllowDBCheck                 bool
	AllowHighConfidenceAllowlist bool
}

type pendingCheck struct {
	url  string
	slow bool
}

// RequestChecker issues one oracle check per URL of a chain and reports each
// verdict upward. It makes no cancel or defer decisions.
type RequestChecker struct {
	oracle  Oracle
	poster  sequence.Poster
	cfg     CheckerConfig
	metrics *Metrics
	log     *zap.Logger

	req       model.Request
	started   bool
	abandoned bool
	nextID    int
	redirects int
	pending   map[int]*pendingCheck

	onSlow     func()
	onComplete func(CheckResult)
}

// NewRequestChecker returns a checker whose oracle callbacks are delivered
// through poster.
func NewRequestChecker(oracle Oracle, poster sequence.Poster, cfg CheckerConfig, metrics *Metrics, log *zap.Logger) *RequestChecker {
	return &RequestChecker{
		oracle:  oracle,
		poster:  poster,
		cfg:     cfg,
		metrics: metrics,
		log:     logging.OrNop(log),
		pending: make(map[int]*pendingCheck),
	}
}

// SetCallbacks replaces the upward listener. Adoption uses it to route the
// remaining verdicts to a tracker.
func (c *RequestChecker) SetCallbacks(onSlow func(), onComplete func(CheckResult)) {
	c.onSlow = onSlow
	c.onComplete = onComplete
}

// Start checks the original URL of the chain.
func (c *RequestChecker) Start(req model.Request) error {
	if c.started || c.abandoned {
		return fmt.Errorf("start checker for %s: %w", req.URL, ErrInvalidState)
	}
	c.started = true
	c.req = req
	c.dispatch(req.URL, req.Method, 0)
	return nil
}

// CheckURL checks a redirect target of the chain.
func (c *RequestChecker) CheckURL(u *url.URL, method string) error {
	if !c.started || c.abandoned {
		return fmt.Errorf("check redirect %s: %w", u, ErrInvalidState)
	}
	c.redirects++
	c.dispatch(u, method, c.redirects)
	return nil
}

// Outstanding returns how many checks have not resolved yet.
func (c *RequestChecker) Outstanding() int { return len(c.pending) }

// Request returns the original request of the chain.
func (c *RequestChecker) Request() model.Request { return c.req }

// Abandon drops every outstanding check. Verdicts that arrive later are
// ignored.
func (c *RequestChecker) Abandon() {
	if c.abandoned {
		return
	}
	c.abandoned = true
	if n := len(c.pending); n > 0 {
		c.log.Debug("abandoning outstanding checks", zap.Int("outstanding", n))
	}
	c.pending = make(map[int]*pendingCheck)
	c.onSlow = nil
	c.onComplete = nil
}

// Abandoned reports whether Abandon was called.
func (c *RequestChecker) Abandoned() bool { return c.abandoned }

func (c *RequestChecker) dispatch(u *url.URL, method string, redirectIndex int) {
	id := c.nextID
	c.nextID++
	c.pending[id] = &pendingCheck{url: u.String()}

	q := model.CheckQuery{
		RequestID:                    c.req.ID,
		DocumentID:                   c.req.DocumentID,
		URL:                          u,
		Method:                       method,
		Headers:                      c.req.Headers,
		Destination:                  c.req.Destination,
		HasUserGesture:               c.req.HasUserGesture,
		LoadFlags:                    c.req.LoadFlags,
		RedirectIndex:                redirectIndex,
		RealTimeLookupEnabled:        c.cfg.RealTimeLookupEnabled,
		HashRealTimeLookupEnabled:    c.cfg.HashRealTimeLookupEnabled,
		AllowSubresourceCheck:        c.cfg.AllowSubresourceCheck,
		AllowDBCheck:                 c.cfg.AllowDBCheck,
		AllowHighConfidenceAllowlist: c.cfg.AllowHighConfidenceAllowlist,
	}
	c.log.Debug("dispatching check",
		zap.String("request_id", c.req.ID),
		zap.String("url", q.URL.String()),
		zap.Int("redirect_index", redirectIndex))

	c.oracle.CheckURL(q, CheckCallbacks{
		OnSlowCheck: func() {
			c.poster.Post(func() { c.handleSlow(id) })
		},
		OnComplete: func(v model.Verdict) {
			c.poster.Post(func() { c.handleComplete(id, v) })
		},
	})
}

func (c *RequestChecker) handleSlow(id int) {
	p, ok := c.pending[id]
	if !ok || p.slow {
		return
	}
	p.slow = true
	if c.onSlow != nil {
		c.onSlow()
	}
}

func (c *RequestChecker) handleComplete(id int, v model.Verdict) {
	p, ok := c.pending[id]
	if !ok {
		// Abandoned, or the oracle completed the same check twice.
		c.metrics.lateVerdict()
		return
	}
	delete(c.pending, id)

	res := CheckResult{
		URL:                p.url,
		Proceed:            v.Proceed,
		ShowedInterstitial: v.ShowedInterstitial,
		Kind:               v.Kind,
		Threat:             v.Threat,
		Reason:             v.Reason,
		SkipRemaining:      v.SkipRemaining,
		WasSlow:            p.slow,
		Err:                v.Err,
	}
	if !res.Proceed && res.Err != nil && res.Threat == model.ThreatNone {
		c.log.Info("oracle could not answer, proceeding",
			zap.String("url", p.url), zap.Error(res.Err))
		res.Proceed = true
	}
	if c.onComplete != nil {
		c.onComplete(res)
	}
}
