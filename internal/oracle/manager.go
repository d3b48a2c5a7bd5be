// Package oracle answers whether a URL is safe to load. The Manager picks one
// lookup mechanism per URL (local heuristics, URL real-time lookup, hash
// real-time lookup or the local hash database) and reports the verdict
// asynchronously.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
)

// ErrNoMechanism means no lookup mechanism is available for a query.
var ErrNoMechanism = errors.New("oracle: no lookup mechanism available")

// DefaultTimeout bounds a single check when the caller sets none.
const DefaultTimeout = 5 * time.Second

// HashDatabase is the local list store.
type HashDatabase interface {
	Lookup(ctx context.Context, u *url.URL) (model.ThreatType, error)
	IsHighConfidenceAllowlisted(ctx context.Context, u *url.URL) (bool, error)
	IsSkipDomain(ctx context.Context, u *url.URL) (bool, error)
}

// RealTimeLookup is the remote lookup service.
type RealTimeLookup interface {
	LookupURL(ctx context.Context, u *url.URL) (model.ThreatType, error)
	SearchHashPrefixes(ctx context.Context, prefixes [][]byte) ([]FullHashMatch, error)
}

// DocumentLookup reports whether a document is still open.
// *safebrowsing.TrackerRegistry implements it.
type DocumentLookup interface {
	Get(documentID string) (*safebrowsing.AsyncTracker, bool)
}

// Options wires a Manager.
type Options struct {
	Store      HashDatabase
	RealTime   RealTimeLookup
	Heuristics *Heuristics
	// UI, when set, shows an interstitial for unsafe main-frame verdicts.
	UI safebrowsing.UIManager
	// Documents, when set, suppresses interstitials for documents that were
	// destroyed before the verdict arrived.
	Documents DocumentLookup
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Manager implements safebrowsing.Oracle.
type Manager struct {
	store      HashDatabase
	realTime   RealTimeLookup
	heuristics *Heuristics
	ui         safebrowsing.UIManager
	documents  DocumentLookup
	timeout    time.Duration
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ safebrowsing.Oracle = (*Manager)(nil)

// NewManager returns a Manager. A nil Heuristics uses DefaultHeuristics.
func NewManager(opts Options) *Manager {
	if opts.Heuristics == nil {
		opts.Heuristics = DefaultHeuristics()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:      opts.Store,
		realTime:   opts.RealTime,
		heuristics: opts.Heuristics,
		ui:         opts.UI,
		documents:  opts.Documents,
		timeout:    opts.Timeout,
		log:        logging.OrNop(opts.Logger).Named("oracle"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// CheckURL starts a check and returns immediately. cb is invoked from the
// check's own goroutine.
func (m *Manager) CheckURL(q model.CheckQuery, cb safebrowsing.CheckCallbacks) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()

		var slowOnce sync.Once
		onSlow := func() {
			slowOnce.Do(func() {
				if cb.OnSlowCheck != nil {
					cb.OnSlowCheck()
				}
			})
		}
		v := m.check(ctx, q, onSlow)
		if cb.OnComplete != nil {
			cb.OnComplete(v)
		}
	}()
}

// Close cancels in-flight checks and waits for their callbacks to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Mechanism returns the mechanism q would be checked with. Heuristics, skip
// domains and the allowlist may still override it.
func (m *Manager) Mechanism(q model.CheckQuery) (model.CheckKind, error) {
	if q.URL == nil || (q.URL.Scheme != "http" && q.URL.Scheme != "https") {
		return model.CheckSkipped, nil
	}
	remoteAllowed := !q.Destination.IsSubresource() || q.AllowSubresourceCheck
	switch {
	case m.realTime != nil && q.RealTimeLookupEnabled && remoteAllowed:
		return model.CheckURLRealTime, nil
	case m.realTime != nil && q.HashRealTimeLookupEnabled && remoteAllowed:
		return model.CheckHashRealTime, nil
	case m.store != nil && q.AllowDBCheck:
		return model.CheckHashDatabase, nil
	}
	return model.CheckSkipped, ErrNoMechanism
}

func (m *Manager) check(ctx context.Context, q model.CheckQuery, onSlow func()) model.Verdict {
	log := m.log.With(zap.String("request_id", q.RequestID), zap.Stringer("url", q.URL))

	kind, err := m.Mechanism(q)
	if kind == model.CheckSkipped && err == nil {
		return model.Verdict{Proceed: true, Kind: model.CheckSkipped}
	}
	if threat, reason, ok := m.heuristics.Check(q); ok {
		return m.unsafe(q, model.CheckHashDatabase, threat, reason)
	}
	if errors.Is(err, ErrNoMechanism) {
		log.Debug("no mechanism available, proceeding")
		return model.Verdict{Proceed: true, Kind: model.CheckSkipped}
	}

	if m.store != nil {
		skip, err := m.store.IsSkipDomain(ctx, q.URL)
		if err != nil {
			log.Warn("skip domain lookup failed", zap.Error(err))
		} else if skip {
			log.Debug("skip domain, exempting rest of chain")
			return model.Verdict{Proceed: true, Kind: model.CheckSkipped, SkipRemaining: true}
		}
	}

	if kind == model.CheckURLRealTime && q.AllowHighConfidenceAllowlist && m.store != nil {
		allowed, err := m.store.IsHighConfidenceAllowlisted(ctx, q.URL)
		if err != nil {
			log.Warn("allowlist lookup failed", zap.Error(err))
		}
		if allowed {
			log.Debug("high-confidence allowlist hit, using hash database")
			kind = model.CheckHashDatabase
		}
	}

	var threat model.ThreatType
	switch kind {
	case model.CheckURLRealTime:
		onSlow()
		threat, err = m.realTime.LookupURL(ctx, q.URL)
	case model.CheckHashRealTime:
		onSlow()
		threat, err = m.hashRealTime(ctx, q.URL)
	case model.CheckHashDatabase:
		threat, err = m.store.Lookup(ctx, q.URL)
	}
	if err != nil {
		log.Info("check failed, proceeding", zap.String("check_kind", string(kind)), zap.Error(err))
		return model.Verdict{Proceed: true, Kind: kind, Err: fmt.Errorf("%s check: %w", kind, err)}
	}
	if threat != model.ThreatNone {
		return m.unsafe(q, kind, threat, "listed as "+string(threat))
	}
	return model.Verdict{Proceed: true, Kind: kind}
}

func (m *Manager) hashRealTime(ctx context.Context, u *url.URL) (model.ThreatType, error) {
	exprs := URLExpressions(u)
	fulls := make([][]byte, len(exprs))
	prefixes := make([][]byte, 0, len(exprs))
	seen := make(map[string]bool, len(exprs))
	for i, e := range exprs {
		fulls[i] = FullHash(e)
		p := HashPrefix(fulls[i])
		if !seen[string(p)] {
			seen[string(p)] = true
			prefixes = append(prefixes, p)
		}
	}
	matches, err := m.realTime.SearchHashPrefixes(ctx, prefixes)
	if err != nil {
		return model.ThreatNone, err
	}
	for _, full := range fulls {
		for _, match := range matches {
			if bytes.Equal(full, match.FullHash) && match.Threat != model.ThreatNone {
				return match.Threat, nil
			}
		}
	}
	return model.ThreatNone, nil
}

func (m *Manager) unsafe(q model.CheckQuery, kind model.CheckKind, threat model.ThreatType, reason string) model.Verdict {
	v := model.Verdict{Kind: kind, Threat: threat, Reason: reason}
	if m.ui != nil && q.Destination.IsMainFrame() && m.documentOpen(q.DocumentID) {
		m.ui.DisplayBlockingPage(q.DocumentID, safebrowsing.BlockingPage{
			DocumentID: q.DocumentID,
			RequestID:  q.RequestID,
			URL:        q.URL.String(),
			Threat:     threat,
			Kind:       kind,
			Reason:     reason,
		})
		v.ShowedInterstitial = true
	}
	m.log.Info("unsafe url",
		zap.String("request_id", q.RequestID),
		zap.Stringer("url", q.URL),
		zap.String("threat", string(threat)),
		zap.String("check_kind", string(kind)),
		zap.Bool("showed_interstitial", v.ShowedInterstitial))
	return v
}

func (m *Manager) documentOpen(documentID string) bool {
	if m.documents == nil {
		return true
	}
	if _, ok := m.documents.Get(documentID); !ok {
		m.log.Debug("document gone, not showing interstitial", zap.String("document_id", documentID))
		return false
	}
	return true
}
