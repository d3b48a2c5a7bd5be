// Package safebrowsing gates URL loads on asynchronous safety verdicts.
//
// A LoadGate is bound to one load and observes its lifecycle (start,
// redirects, response). It dispatches one oracle check per URL in the chain
// through a RequestChecker, defers response processing while checks are
// outstanding and cancels the load on the first unsafe verdict. Checks that
// outlive their gate can be adopted by the document's AsyncTracker so a late
// unsafe verdict still produces a warning.
//
// Gate, checker and tracker state is sequence-affine: it is only touched from
// tasks on the owning document's sequence.Poster.
package safebrowsing

import (
	"errors"
	"net/url"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

// ErrInvalidState is returned when a checker operation is called out of order.
var ErrInvalidState = errors.New("safebrowsing: invalid state")

const (
	// NetErrorCodeForSafeBrowsing cancels a load whose warning was already
	// shown to the user (net::ERR_BLOCKED_BY_CLIENT).
	NetErrorCodeForSafeBrowsing = -20
	// NetErrorAborted cancels a load silently (net::ERR_ABORTED).
	NetErrorAborted = -3
	// CustomCancelReason accompanies every cancellation issued by a gate.
	CustomCancelReason = "SafeBrowsing"
)

// Delegate is the control surface of the load a gate is attached to.
type Delegate interface {
	Resume()
	CancelWithError(code int, reason string)
	PauseReadingBodyFromNet()
	ResumeReadingBodyFromNet()
}

// CheckCallbacks are handed to the oracle with each check. OnSlowCheck may be
// called at most once, before OnComplete. OnComplete is terminal. Both may be
// invoked from any goroutine.
type CheckCallbacks struct {
	OnSlowCheck func()
	OnComplete  func(model.Verdict)
}

// Oracle answers whether a URL is safe. Calls never block; the verdict arrives
// through the callbacks. The oracle offers no cancellation.
type Oracle interface {
	CheckURL(q model.CheckQuery, cb CheckCallbacks)
}

// PolicyDelegate decides whether a chain is exempt from checking.
type PolicyDelegate interface {
	ShouldSkipRequestCheck(u *url.URL, originatedFromServiceWorker bool) bool
}

// BlockingPage carries what the UI needs to warn about an unsafe URL.
type BlockingPage struct {
	DocumentID string
	RequestID  string
	URL        string
	Threat     model.ThreatType
	Kind       model.CheckKind
	Reason     string
}

// UIManager displays warnings bound to a document.
type UIManager interface {
	DisplayBlockingPage(documentID string, page BlockingPage)
}

// Config is resolved once per gate and never changes for its chain.
type Config struct {
	// KnownSafeSchemes are exempt without any oracle call.
	KnownSafeSchemes []string
	// SkipSubresources exempts subresource destinations.
	SkipSubresources bool

	RealTimeLookupEnabled        bool
	HashRealTimeLookupEnabled    bool
	AllowSubresourceCheck        bool
	AllowDBCheck                 bool
	AllowHighConfidenceAllowlist bool
}

// DefaultConfig returns the gate configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		KnownSafeSchemes:             []string{"about", "chrome", "chrome-untrusted", "devtools"},
		AllowDBCheck:                 true,
		AllowHighConfidenceAllowlist: true,
	}
}

// CheckResult is what a RequestChecker reports upward for one finished check.
type CheckResult struct {
	URL                string
	Proceed            bool
	ShowedInterstitial bool
	Kind               model.CheckKind
	Threat             model.ThreatType
	Reason             string
	SkipRemaining      bool
	// WasSlow is set when the oracle flagged this check as slow.
	WasSlow bool
	Err     error
}

// Record converts the result into its serialisable form.
func (r CheckResult) Record() model.VerdictRecord {
	rec := model.VerdictRecord{
		URL:                r.URL,
		Proceed:            r.Proceed,
		ShowedInterstitial: r.ShowedInterstitial,
		Kind:               r.Kind,
		Threat:             r.Threat,
		Slow:               r.WasSlow,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
