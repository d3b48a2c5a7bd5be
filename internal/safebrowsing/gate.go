package safebrowsing

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/sequence"
)

// State is the position of a LoadGate in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateDeferred
	StateResumed
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateDeferred:
		return "deferred"
	case StateResumed:
		return "resumed"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// GateOptions wires a LoadGate to its collaborators.
type GateOptions struct {
	Config   Config
	Delegate Delegate
	Oracle   Oracle
	// Poster delivers oracle callbacks onto the gate's sequence.
	Poster sequence.Poster
	Policy PolicyDelegate
	// Tracker adopts checks still outstanding at Close. Nil means abandon.
	Tracker *AsyncTracker
	Metrics *Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// LoadGate is the throttle bound to one load. Every method must be called on
// the gate's sequence.
type LoadGate struct {
	cfg      Config
	delegate Delegate
	tracker  *AsyncTracker
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time

	skip    *SkipChecker
	checker *RequestChecker

	state             State
	started           bool
	closed            bool
	pendingChecks     int
	pendingSlowChecks int
	deferred          bool
	blocked           bool
	skipChecks        bool
	adopted           bool
	cancelCode        int

	deferredStart time.Time
	totalDelay    time.Duration

	req     model.Request
	results []CheckResult
}

// NewLoadGate builds a gate. Configuration is captured here and stays fixed
// for the lifetime of the chain.
func NewLoadGate(opts GateOptions) *LoadGate {
	log := logging.OrNop(opts.Logger).Named("gate")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	poster := opts.Poster
	if poster == nil {
		poster = sequence.Inline{}
	}
	g := &LoadGate{
		cfg:      opts.Config,
		delegate: opts.Delegate,
		tracker:  opts.Tracker,
		metrics:  opts.Metrics,
		log:      log,
		now:      now,
		skip:     NewSkipChecker(opts.Policy, log),
	}
	g.checker = NewRequestChecker(opts.Oracle, poster, CheckerConfig{
		RealTimeLookupEnabled:        opts.Config.RealTimeLookupEnabled,
		HashRealTimeLookupEnabled:    opts.Config.HashRealTimeLookupEnabled,
		AllowSubresourceCheck:        opts.Config.AllowSubresourceCheck,
		AllowDBCheck:                 opts.Config.AllowDBCheck,
		AllowHighConfidenceAllowlist: opts.Config.AllowHighConfidenceAllowlist,
	}, opts.Metrics, log)
	g.checker.SetCallbacks(g.notifySlowCheck, g.onCheckComplete)
	return g
}

// WillStartRequest observes the start of the load. It never defers.
func (g *LoadGate) WillStartRequest(req model.Request) (deferLoad bool) {
	if g.closed {
		return false
	}
	if g.started {
		g.log.DPanic("request started twice", zap.String("request_id", req.ID))
		return false
	}
	g.started = true
	g.req = req
	log := g.log.With(zap.String("request_id", req.ID), zap.Stringer("url", req.URL))

	switch {
	case g.isKnownSafeURL(req):
		log.Debug("known safe url, skipping checks")
		g.skipChecks = true
		return false
	case req.Destination.IsSubresource() && g.cfg.SkipSubresources:
		log.Debug("subresource, skipping checks", zap.Stringer("destination", req.Destination))
		g.skipChecks = true
		return false
	case g.skip.EvaluateOriginal(req.URL, req.OriginatedFromServiceWorker):
		log.Debug("policy exempts chain, skipping checks")
		g.skipChecks = true
		return false
	}

	g.state = StateChecking
	g.pendingChecks++
	g.metrics.checkStarted()
	if err := g.checker.Start(req); err != nil {
		log.DPanic("start checker", zap.Error(err))
		g.pendingChecks--
	}
	return false
}

// WillRedirectRequest observes a server redirect. It defers the redirect
// when the chain is already blocked, because cancellation may not have taken
// effect on the load yet.
func (g *LoadGate) WillRedirectRequest(r model.Redirect) (deferLoad bool) {
	if g.closed {
		return false
	}
	if g.blocked {
		return true
	}
	// A policy exemption sets skipChecks at start, so it covers redirects too.
	if g.skipChecks {
		return false
	}

	g.pendingChecks++
	g.metrics.checkStarted()
	if err := g.checker.CheckURL(r.NewURL, r.NewMethod); err != nil {
		g.log.DPanic("check redirect", zap.Error(err))
		g.pendingChecks--
	}
	return false
}

// WillProcessResponse observes the response. It defers while checks are
// outstanding.
func (g *LoadGate) WillProcessResponse(resp model.Response) (deferLoad bool) {
	if g.closed {
		return false
	}
	if g.blocked {
		return true
	}
	if g.pendingChecks == 0 {
		g.state = StateResumed
		return false
	}

	g.deferred = true
	g.state = StateDeferred
	g.deferredStart = g.now()
	g.metrics.deferred()
	g.log.Debug("deferring response",
		zap.String("request_id", g.req.ID),
		zap.Stringer("url", resp.URL),
		zap.Int("pending_checks", g.pendingChecks))
	return true
}

// Close tears the gate down. Checks still outstanding are handed to the
// tracker, or abandoned when there is none. Hooks after Close are no-ops.
func (g *LoadGate) Close() {
	if g.closed {
		return
	}
	g.closed = true
	checker := g.checker
	g.checker = nil
	if checker == nil {
		return
	}
	if g.blocked || checker.Outstanding() == 0 {
		checker.Abandon()
		return
	}
	if g.tracker == nil {
		g.log.Debug("no tracker, abandoning outstanding checks",
			zap.String("request_id", g.req.ID),
			zap.Int("outstanding", checker.Outstanding()))
		checker.Abandon()
		return
	}
	g.tracker.AdoptChecker(checker, g.req.URL)
	g.adopted = true
	g.metrics.adopted()
}

func (g *LoadGate) notifySlowCheck() {
	if g.closed || g.blocked {
		return
	}
	g.pendingSlowChecks++
	g.metrics.slowCheck()
	if g.pendingSlowChecks == 1 {
		g.delegate.PauseReadingBodyFromNet()
	}
}

func (g *LoadGate) onCheckComplete(res CheckResult) {
	if g.closed || g.blocked {
		g.metrics.lateVerdict()
		return
	}
	if g.pendingChecks == 0 {
		g.log.DPanic("check completed with nothing pending", zap.String("url", res.URL))
		return
	}
	g.pendingChecks--
	if res.WasSlow && g.pendingSlowChecks > 0 {
		g.pendingSlowChecks--
	}
	g.results = append(g.results, res)
	g.metrics.checkCompleted(res.Kind, res.Proceed)

	if !res.Proceed {
		g.block(res)
		return
	}
	if res.SkipRemaining {
		g.skipChecks = true
	}
	if res.WasSlow && g.pendingSlowChecks == 0 {
		g.delegate.ResumeReadingBodyFromNet()
	}
	if g.pendingChecks == 0 && g.deferred {
		g.deferred = false
		g.state = StateResumed
		delay := g.now().Sub(g.deferredStart)
		g.totalDelay += delay
		g.metrics.resumed(delay)
		g.delegate.Resume()
	}
}

func (g *LoadGate) block(res CheckResult) {
	g.blocked = true
	g.deferred = false
	g.state = StateBlocked
	if g.checker != nil {
		g.checker.Abandon()
		g.checker = nil
	}

	code := NetErrorAborted
	if res.ShowedInterstitial {
		code = NetErrorCodeForSafeBrowsing
	}
	g.cancelCode = code
	g.metrics.blocked(res.ShowedInterstitial)
	g.log.Warn("blocking unsafe url",
		zap.String("request_id", g.req.ID),
		zap.String("url", res.URL),
		zap.String("threat", string(res.Threat)),
		zap.String("check_kind", string(res.Kind)),
		zap.Bool("showed_interstitial", res.ShowedInterstitial))
	g.delegate.CancelWithError(code, CustomCancelReason)
}

func (g *LoadGate) isKnownSafeURL(req model.Request) bool {
	if req.URL == nil {
		return true
	}
	for _, s := range g.cfg.KnownSafeSchemes {
		if strings.EqualFold(req.URL.Scheme, s) {
			return true
		}
	}
	return false
}

// PendingChecks returns the number of unresolved checks of the chain.
func (g *LoadGate) PendingChecks() int { return g.pendingChecks }

// PendingSlowChecks returns the number of unresolved slow checks.
func (g *LoadGate) PendingSlowChecks() int { return g.pendingSlowChecks }

// Deferred reports whether the response is held back.
func (g *LoadGate) Deferred() bool { return g.deferred }

// Blocked reports whether an unsafe verdict cancelled the chain.
func (g *LoadGate) Blocked() bool { return g.blocked }

// SkipChecks reports whether the chain bypasses checking.
func (g *LoadGate) SkipChecks() bool { return g.skipChecks }

// State returns the lifecycle state.
func (g *LoadGate) State() State { return g.state }

// Checker returns the active checker, or nil once blocked or closed.
func (g *LoadGate) Checker() *RequestChecker { return g.checker }

// TotalDelay returns how long the response spent deferred.
func (g *LoadGate) TotalDelay() time.Duration { return g.totalDelay }

// CancelCode returns the error code the load was cancelled with, or 0.
func (g *LoadGate) CancelCode() int { return g.cancelCode }

// Adopted reports whether outstanding checks went to the tracker at Close.
func (g *LoadGate) Adopted() bool { return g.adopted }

// Results returns the verdicts received so far, in arrival order.
func (g *LoadGate) Results() []CheckResult {
	out := make([]CheckResult, len(g.results))
	copy(out, g.results)
	return out
}
