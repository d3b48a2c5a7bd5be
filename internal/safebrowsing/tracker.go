package safebrowsing

import (
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
)

// AsyncTracker owns checkers whose gate is gone but whose verdicts may still
// warrant a warning for the document. It is sequence-affine: every method must
// run on the document's sequence.
type AsyncTracker struct {
	documentID string
	ui         UIManager
	metrics    *Metrics
	log        *zap.Logger

	checkers map[*RequestChecker]string
	closed   bool
}

func newAsyncTracker(documentID string, ui UIManager, metrics *Metrics, log *zap.Logger) *AsyncTracker {
	return &AsyncTracker{
		documentID: documentID,
		ui:         ui,
		metrics:    metrics,
		log:        log.With(zap.String("document_id", documentID)),
		checkers:   make(map[*RequestChecker]string),
	}
}

// DocumentID returns the document the tracker is bound to.
func (t *AsyncTracker) DocumentID() string { return t.documentID }

// AdoptChecker takes ownership of c and routes its remaining verdicts here.
func (t *AsyncTracker) AdoptChecker(c *RequestChecker, u *url.URL) {
	if t.closed {
		c.Abandon()
		return
	}
	if _, ok := t.checkers[c]; ok {
		return
	}
	origin := ""
	if u != nil {
		origin = u.String()
	}
	t.checkers[c] = origin
	c.SetCallbacks(func() {}, func(res CheckResult) { t.onVerdict(c, res) })
	t.log.Debug("adopted checker",
		zap.String("url", origin),
		zap.Int("outstanding", c.Outstanding()))
}

// Tracked returns the number of adopted checkers still waiting on verdicts.
func (t *AsyncTracker) Tracked() int { return len(t.checkers) }

// Close drops every adopted checker. Verdicts arriving afterwards have no
// effect.
func (t *AsyncTracker) Close() {
	if t.closed {
		return
	}
	t.closed = true
	for c := range t.checkers {
		c.Abandon()
	}
	if n := len(t.checkers); n > 0 {
		t.log.Debug("document closed with outstanding checks", zap.Int("dropped", n))
	}
	t.checkers = nil
}

func (t *AsyncTracker) onVerdict(c *RequestChecker, res CheckResult) {
	if t.closed {
		return
	}
	if _, ok := t.checkers[c]; !ok {
		return
	}

	if !res.Proceed {
		delete(t.checkers, c)
		c.Abandon()
		t.log.Warn("late unsafe verdict",
			zap.String("url", res.URL),
			zap.String("threat", string(res.Threat)),
			zap.Bool("showed_interstitial", res.ShowedInterstitial))
		// The oracle already warned the user; showing a second page is noise.
		if res.ShowedInterstitial || t.ui == nil {
			return
		}
		t.metrics.asyncWarning()
		t.ui.DisplayBlockingPage(t.documentID, BlockingPage{
			DocumentID: t.documentID,
			RequestID:  c.Request().ID,
			URL:        res.URL,
			Threat:     res.Threat,
			Kind:       res.Kind,
			Reason:     res.Reason,
		})
		return
	}
	if c.Outstanding() == 0 {
		delete(t.checkers, c)
	}
}

// TrackerRegistry maps open documents to their trackers. It replaces any
// process-wide lookup: whoever models the open documents owns one and passes
// it down.
type TrackerRegistry struct {
	mu       sync.Mutex
	trackers map[string]*AsyncTracker
	metrics  *Metrics
	log      *zap.Logger
}

// NewTrackerRegistry returns an empty registry.
func NewTrackerRegistry(metrics *Metrics, log *zap.Logger) *TrackerRegistry {
	return &TrackerRegistry{
		trackers: make(map[string]*AsyncTracker),
		metrics:  metrics,
		log:      logging.OrNop(log).Named("tracker"),
	}
}

// GetOrCreateForDocument returns the document's tracker, creating it bound to
// ui on first use.
func (r *TrackerRegistry) GetOrCreateForDocument(documentID string, ui UIManager) *AsyncTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[documentID]; ok {
		return t
	}
	t := newAsyncTracker(documentID, ui, r.metrics, r.log)
	r.trackers[documentID] = t
	return t
}

// Get returns the document's tracker if one exists.
func (r *TrackerRegistry) Get(documentID string) (*AsyncTracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[documentID]
	return t, ok
}

// DestroyDocument unregisters the document's tracker and returns it so the
// caller can Close it on the document's sequence.
func (r *TrackerRegistry) DestroyDocument(documentID string) (*AsyncTracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[documentID]
	if ok {
		delete(r.trackers, documentID)
	}
	return t, ok
}

// Len returns the number of documents with a tracker.
func (r *TrackerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
